// Package panel renders Home Assistant entity states into fixed fields of a
// character display and runs the periodic refresh cycle.
package panel

import (
	"bytes"

	"github.com/harveysanders/vfdash/dashboard/charset"
	"github.com/harveysanders/vfdash/dashboard/config"
)

// Display is the character display the panel draws on. Text handed to it is
// already encoded in the display's code page, one byte per cell.
type Display interface {
	Init() error
	Clear() error
	ShowCursor(on bool) error
	SetLuminance(level uint8) error
	MoveCursor(pos int) error
	WriteString(s string) error
	WriteBytes(b []byte) error
}

// Fetcher returns the current state of an entity. The returned slice only
// needs to stay valid until the next call.
type Fetcher interface {
	Fetch(entityID string) ([]byte, error)
}

const (
	errorMarker = "ERR"
	unavailable = "unavailable"
)

var (
	questionMark = []byte{'?'}
	// blanks is written in chunks to erase leftovers of a longer previous value.
	blanks = bytes.Repeat([]byte{' '}, 40)
)

// Renderer draws entity fields. It keeps one encode buffer, so a Renderer
// must not be shared between goroutines.
type Renderer struct {
	enc     charset.Encoder
	scratch []byte
}

// NewRenderer returns a Renderer encoding values with enc.
func NewRenderer(enc charset.Encoder) *Renderer {
	return &Renderer{enc: enc, scratch: make([]byte, 0, 64)}
}

// Render draws one entity's field: label, separator, then the value region.
// On success the value region is the state (with "unavailable" shown as "?")
// followed by the unit; when fetchErr is set it is "ERR" without unit. A
// value wider than the entity's MaxWidth is cut to MaxWidth cells so it
// never runs into the next field. Spaces follow until prev cells of the value
// region are covered, so nothing of a longer previous render survives.
//
// It returns the number of value-region cells written, padding excluded,
// which the caller passes back as prev next time. If the display fails
// mid-field the returned length is max(prev, new) so the next render still
// erases everything that may be on screen.
func (r *Renderer) Render(d Display, e config.Entity, state []byte, fetchErr error, prev int) (int, error) {
	if err := d.MoveCursor(e.Position); err != nil {
		return prev, err
	}
	if err := d.WriteString(e.Name); err != nil {
		return prev, err
	}
	if err := d.WriteString(config.Separator); err != nil {
		return prev, err
	}

	if fetchErr != nil {
		r.scratch = append(r.scratch[:0], errorMarker...)
	} else {
		if string(state) == unavailable {
			state = questionMark
		}
		r.scratch = charset.Append(r.scratch[:0], r.enc, state)
		r.scratch = append(r.scratch, e.Unit...)
	}
	if e.MaxWidth > 0 && len(r.scratch) > e.MaxWidth {
		r.scratch = r.scratch[:e.MaxWidth]
	}
	n := len(r.scratch)
	if err := d.WriteBytes(r.scratch); err != nil {
		return max(prev, n), err
	}

	for pad := prev - n; pad > 0; {
		chunk := min(pad, len(blanks))
		if err := d.WriteBytes(blanks[:chunk]); err != nil {
			return max(prev, n), err
		}
		pad -= chunk
	}
	return n, nil
}
