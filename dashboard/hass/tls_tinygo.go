//go:build tinygo

package hass

// TinyGo's crypto/tls only dials through a netdev offload; tls.Client over
// a plain net.Conn is a stub that panics.
var tlsSupported = false
