package config

import (
	"errors"
	"net/url"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harveysanders/vfdash/dashboard/charset"
)

type fileConfig struct {
	BaseURL               string        `yaml:"base_url"`
	Token                 string        `yaml:"token"`
	TLSInsecureSkipVerify bool          `yaml:"tls_insecure_skip_verify"`
	TLSRootCA             string        `yaml:"tls_root_ca"`
	Hostname              string        `yaml:"hostname"`
	Refresh               time.Duration `yaml:"refresh"`
	FetchTimeout          time.Duration `yaml:"fetch_timeout"`
	RetryDelay            time.Duration `yaml:"retry_delay"`
	DeadCycles            *int          `yaml:"dead_cycles"`
	Luminance             struct {
		Entity  string `yaml:"entity"`
		Default *int   `yaml:"default"`
	} `yaml:"luminance"`
	Display struct {
		Kind    string `yaml:"kind"`
		Columns int    `yaml:"columns"`
		Rows    int    `yaml:"rows"`
		Charset string `yaml:"charset"`
		I2CAddr uint8  `yaml:"i2c_addr"`
	} `yaml:"display"`
	Entities []fileEntity `yaml:"entities"`
}

type fileEntity struct {
	Name     string `yaml:"name"`
	Unit     string `yaml:"unit"`
	ID       string `yaml:"id"`
	Position int    `yaml:"position"`
	MaxWidth int    `yaml:"max_width"`
}

// Load decodes YAML configuration, fills in defaults, encodes unit suffixes
// into the display's code page and validates the result. Entities are
// returned sorted by screen position.
func Load(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, errors.New("config: decode yaml: " + err.Error())
	}

	cfg := &Config{
		BaseURL:               fc.BaseURL,
		Token:                 fc.Token,
		TLSInsecureSkipVerify: fc.TLSInsecureSkipVerify,
		TLSRootCA:             fc.TLSRootCA,
		LuminanceEntity:       fc.Luminance.Entity,
		DefaultLuminance:      DefaultLuminance,
		Refresh:               orDuration(fc.Refresh, DefaultRefresh),
		FetchTimeout:          orDuration(fc.FetchTimeout, DefaultFetchTimeout),
		RetryDelay:            orDuration(fc.RetryDelay, DefaultRetryDelay),
		DeadCycles:            DefaultDeadCycles,
		Hostname:              fc.Hostname,
		Display: Display{
			Kind:    DisplayKind(fc.Display.Kind),
			Columns: fc.Display.Columns,
			Rows:    fc.Display.Rows,
			Charset: fc.Display.Charset,
			I2CAddr: fc.Display.I2CAddr,
		},
	}
	if token != "" {
		cfg.Token = token
	}
	if fc.DeadCycles != nil {
		cfg.DeadCycles = *fc.DeadCycles
	}
	if cfg.Hostname == "" {
		cfg.Hostname = DefaultHostname
	}
	applyDisplayDefaults(&cfg.Display)

	if fc.Luminance.Default != nil {
		lum := *fc.Luminance.Default
		if lum < 0 || lum > 255 {
			return nil, errors.New("config: luminance.default " + strconv.Itoa(lum) + " outside 0-255")
		}
		cfg.DefaultLuminance = uint8(lum)
	}

	enc, err := charset.Lookup(cfg.Display.Charset)
	if err != nil {
		return nil, errors.New("config: display.charset: " + err.Error())
	}
	cfg.Entities = make([]Entity, 0, len(fc.Entities))
	for _, fe := range fc.Entities {
		unit, err := charset.Encode(enc, fe.Unit)
		if err != nil {
			return nil, errors.New("config: entity " + fe.ID + " unit: " + err.Error())
		}
		name, err := charset.Encode(enc, fe.Name)
		if err != nil {
			return nil, errors.New("config: entity " + fe.ID + " name: " + err.Error())
		}
		cfg.Entities = append(cfg.Entities, Entity{
			Name:     string(name),
			Unit:     unit,
			ID:       fe.ID,
			Position: fe.Position,
			MaxWidth: fe.MaxWidth,
		})
	}
	sort.SliceStable(cfg.Entities, func(i, j int) bool {
		return cfg.Entities[i].Position < cfg.Entities[j].Position
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDisplayDefaults(d *Display) {
	if d.Kind == "" {
		d.Kind = DisplayVFD
	}
	if d.Columns == 0 {
		d.Columns = 40
		if d.Kind == DisplayLCD {
			d.Columns = 16
		}
	}
	if d.Rows == 0 {
		d.Rows = 2
	}
	if d.Charset == "" {
		d.Charset = "latin1"
		if d.Kind == DisplayLCD {
			d.Charset = "hd44780"
		}
	}
	if d.I2CAddr == 0 {
		d.I2CAddr = 0x27
	}
}

func orDuration(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// Validate checks everything that would otherwise fail at runtime: URL shape
// and length, display geometry and field overlap. It is run once by Load.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errors.New("config: base_url: " + err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("config: base_url scheme must be http or https, got " + strconv.Quote(u.Scheme))
	}
	if u.Host == "" {
		return errors.New("config: base_url has no host")
	}
	if len(c.BaseURL) == 0 || c.BaseURL[len(c.BaseURL)-1] != '/' {
		return errors.New("config: base_url must end with /")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("config: base_url must not carry a query or fragment")
	}
	if c.Refresh <= 0 || c.FetchTimeout <= 0 || c.RetryDelay <= 0 {
		return errors.New("config: refresh, fetch_timeout and retry_delay must be positive")
	}
	if c.DeadCycles < 0 {
		return errors.New("config: dead_cycles must not be negative")
	}
	switch c.Display.Kind {
	case DisplayVFD, DisplayLCD:
	default:
		return errors.New("config: unknown display.kind " + strconv.Quote(string(c.Display.Kind)))
	}
	if c.Display.Columns <= 0 || c.Display.Rows <= 0 || c.Display.Cells() > 255 {
		return errors.New("config: display geometry must be positive and at most 255 cells")
	}
	if c.LuminanceEntity != "" {
		if err := c.validateURL(c.LuminanceEntity); err != nil {
			return err
		}
	}
	if len(c.Entities) == 0 {
		return errors.New("config: no entities")
	}
	return c.validateLayout()
}

func (c *Config) validateURL(id string) error {
	if id == "" {
		return errors.New("config: entity with empty id")
	}
	if n := len(c.URL(id)); n > MaxURLLen {
		return errors.New("config: URL for " + id + " is " + strconv.Itoa(n) +
			" bytes, limit is " + strconv.Itoa(MaxURLLen))
	}
	return nil
}

// validateLayout expects Entities sorted by position.
func (c *Config) validateLayout() error {
	cells := c.Display.Cells()
	end := 0 // First free cell after the previous field.
	prevID := ""
	for _, e := range c.Entities {
		if err := c.validateURL(e.ID); err != nil {
			return err
		}
		pos := strconv.Itoa(e.Position)
		if e.Position < 0 || e.Position+e.LabelWidth() > cells {
			return errors.New("config: entity " + e.ID + " at " + pos + " does not fit the display")
		}
		if e.Position < end {
			return errors.New("config: entity " + e.ID + " at " + pos + " overlaps " + prevID)
		}
		end = e.Position + e.LabelWidth()
		if e.MaxWidth > 0 {
			end += e.MaxWidth
			if end > cells {
				return errors.New("config: entity " + e.ID + " max_width runs past the display")
			}
		}
		prevID = e.ID
	}
	return nil
}
