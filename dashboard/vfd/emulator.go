package vfd

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Emulator interprets the CU40026 command stream into an in-memory cell grid.
// It implements io.Writer so it can stand in for the UART.
type Emulator struct {
	columns int
	rows    int
	cells   []byte
	cursor  int

	luminance     uint8
	cursorVisible bool
	resets        int

	// Partially received escape sequence.
	pending []byte
}

// NewEmulator returns a blank emulator; zero sizes mean 40x2.
func NewEmulator(columns, rows int) *Emulator {
	if columns <= 0 {
		columns = Columns
	}
	if rows <= 0 {
		rows = Rows
	}
	e := &Emulator{columns: columns, rows: rows, pending: make([]byte, 0, 3)}
	e.cells = make([]byte, columns*rows)
	e.reset()
	return e
}

func (e *Emulator) reset() {
	for i := range e.cells {
		e.cells[i] = ' '
	}
	e.cursor = 0
	e.luminance = 0xff
	e.cursorVisible = true
}

// Write consumes display bytes. It never fails.
func (e *Emulator) Write(p []byte) (int, error) {
	for _, b := range p {
		e.feed(b)
	}
	return len(p), nil
}

func (e *Emulator) feed(b byte) {
	if len(e.pending) > 0 {
		e.pending = append(e.pending, b)
		e.escape()
		return
	}
	switch b {
	case esc:
		e.pending = append(e.pending, b)
	case ctlClear:
		for i := range e.cells {
			e.cells[i] = ' '
		}
		e.cursor = 0
	case ctlCursorOn, ctlCursorBlink:
		e.cursorVisible = true
	case ctlCursorOff:
		e.cursorVisible = false
	default:
		if b < 0x20 {
			return // Unsupported control code.
		}
		e.cells[e.cursor] = b
		e.cursor = (e.cursor + 1) % len(e.cells)
	}
}

func (e *Emulator) escape() {
	switch e.pending[1] {
	case cmdInit:
		e.resets++
		e.reset()
	case cmdLuminance:
		if len(e.pending) < 3 {
			return
		}
		e.luminance = e.pending[2]
	case cmdPosition:
		if len(e.pending) < 3 {
			return
		}
		if pos := int(e.pending[2]); pos < len(e.cells) {
			e.cursor = pos
		}
	}
	e.pending = e.pending[:0]
}

// Cells returns the raw cell contents in display code page.
func (e *Emulator) Cells() []byte { return e.cells }

// Span returns n cells starting at pos, cut short at the end of the screen.
func (e *Emulator) Span(pos, n int) string {
	pos = min(max(pos, 0), len(e.cells))
	n = min(max(n, 0), len(e.cells)-pos)
	return string(e.cells[pos : pos+n])
}

// Cursor returns the linear cursor position.
func (e *Emulator) Cursor() int { return e.cursor }

// Luminance returns the last brightness set.
func (e *Emulator) Luminance() uint8 { return e.luminance }

// CursorVisible reports whether the cursor is shown.
func (e *Emulator) CursorVisible() bool { return e.cursorVisible }

// Resets counts ESC I commands received.
func (e *Emulator) Resets() int { return e.resets }

// Lines decodes each row from the Latin-1 ROM to UTF-8.
func (e *Emulator) Lines() []string {
	lines := make([]string, e.rows)
	var sb strings.Builder
	for r := 0; r < e.rows; r++ {
		sb.Reset()
		for _, b := range e.cells[r*e.columns : (r+1)*e.columns] {
			sb.WriteRune(charmap.ISO8859_1.DecodeByte(b))
		}
		lines[r] = sb.String()
	}
	return lines
}
