package panel

import (
	"log/slog"
	"math"
	"strconv"
)

// Luminance applies the value of a numeric entity (e.g. an input_number
// slider) as display brightness.
type Luminance struct {
	EntityID string
	Fetcher  Fetcher
	Display  Display
	Logger   *slog.Logger

	level uint8
}

// Level returns the brightness last applied.
func (l *Luminance) Level() uint8 { return l.level }

// Apply sets the brightness directly, used for the default at startup.
func (l *Luminance) Apply(level uint8) error {
	if err := l.Display.SetLuminance(level); err != nil {
		return err
	}
	l.level = level
	return nil
}

// Update fetches the luminance entity and applies it. Any failure is logged
// and leaves the previous brightness in place; Update never fails the cycle.
func (l *Luminance) Update() {
	if l.EntityID == "" {
		return
	}
	state, err := l.Fetcher.Fetch(l.EntityID)
	if err != nil {
		l.Logger.Error("luminance:fetch-failed", slog.String("err", err.Error()))
		return
	}
	level, err := parseLevel(state)
	if err != nil {
		l.Logger.Error("luminance:parse-failed",
			slog.String("state", string(state)),
			slog.String("err", err.Error()),
		)
		return
	}
	if err := l.Apply(level); err != nil {
		l.Logger.Error("luminance:apply-failed", slog.String("err", err.Error()))
		return
	}
	l.Logger.Debug("luminance:applied", slog.Int("level", int(level)))
}

// parseLevel parses a decimal state such as "100.0", truncating toward zero
// and clamping to 0-255.
func parseLevel(state []byte) (uint8, error) {
	f, err := strconv.ParseFloat(string(state), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) {
		return 0, strconv.ErrSyntax
	}
	f = math.Trunc(f)
	switch {
	case f <= 0:
		return 0, nil
	case f >= 255:
		return 255, nil
	}
	return uint8(f), nil
}
