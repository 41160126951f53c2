// Package config holds the static configuration of the dashboard: the entity
// catalog, the Home Assistant endpoint and the display geometry.
//
// The configuration is decoded from YAML once at startup and never mutated
// afterwards, so it can be shared without synchronisation. WiFi credentials
// and the API token are injected with linker flags so they stay out of the
// repository:
//
//	tinygo build -target=pico -ldflags "-X github.com/harveysanders/vfdash/dashboard/config.ssid=MyNet \
//	  -X github.com/harveysanders/vfdash/dashboard/config.pass=secret \
//	  -X github.com/harveysanders/vfdash/dashboard/config.token=eyJ..." ./dashboard
package config

import (
	_ "embed"
	"time"
)

var (
	ssid  string
	pass  string
	token string
)

// SSID returns the WiFi SSID set via linker flags.
func SSID() string { return ssid }

// Password returns the WiFi password set via linker flags.
func Password() string { return pass }

// Token returns the Home Assistant long-lived access token set via linker flags.
func Token() string { return token }

//go:embed dashboard.yaml
var defaultYAML []byte

const (
	// MaxURLLen bounds base URL + entity ID. Longer URLs are rejected at load.
	MaxURLLen = 512

	DefaultRefresh      = 5 * time.Second
	DefaultFetchTimeout = 10 * time.Second
	DefaultRetryDelay   = 5 * time.Second
	DefaultLuminance    = 100
	DefaultDeadCycles   = 3
	DefaultHostname     = "vfd-dashboard"
)

// DisplayKind selects the display driver.
type DisplayKind string

const (
	DisplayVFD DisplayKind = "vfd"
	DisplayLCD DisplayKind = "lcd"
)

// Entity is one tracked Home Assistant entity and its field on screen.
type Entity struct {
	Name     string // Label written before ": ".
	Unit     []byte // Suffix in the display code page. May be empty.
	ID       string // Home Assistant entity_id, e.g. "sensor.temperature".
	Position int    // Linear cell offset of the label.
	MaxWidth int    // Widest value+unit expected; 0 when unknown.
}

// LabelWidth is the number of cells taken by the label and separator.
func (e Entity) LabelWidth() int {
	return len(e.Name) + len(Separator)
}

// Separator sits between label and value.
const Separator = ": "

// Display describes the physical display.
type Display struct {
	Kind    DisplayKind
	Columns int
	Rows    int
	Charset string
	// I2CAddr is used by the HD44780 backpack only.
	I2CAddr uint8
}

// Cells is the total number of character cells.
func (d Display) Cells() int { return d.Columns * d.Rows }

// Config is the validated, immutable dashboard configuration.
type Config struct {
	BaseURL string
	Token   string

	// TLSInsecureSkipVerify disables certificate verification for https base
	// URLs. It is a disabled security control and is logged as such.
	TLSInsecureSkipVerify bool
	// TLSRootCA is an optional PEM bundle trusted for the base URL.
	TLSRootCA string

	Entities []Entity

	// LuminanceEntity drives display brightness. Empty disables it.
	LuminanceEntity  string
	DefaultLuminance uint8

	Refresh      time.Duration
	FetchTimeout time.Duration
	RetryDelay   time.Duration
	// DeadCycles is the number of consecutive cycles with nothing but
	// transport errors after which the link is considered lost.
	DeadCycles int

	Hostname string
	Display  Display
}

// URL returns the state URL of the entity with the given ID.
func (c *Config) URL(entityID string) string {
	return c.BaseURL + entityID
}

// Default loads the configuration embedded in the firmware image.
func Default() (*Config, error) {
	return Load(defaultYAML)
}
