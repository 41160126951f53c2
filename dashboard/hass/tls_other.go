//go:build !tinygo

package hass

var tlsSupported = true
