// Package vfd drives a Futaba CU40026 40x2 vacuum fluorescent display over
// a serial line. The display is write-only: every method emits a command
// sequence to the underlying writer (a UART at 19200 baud, 8E1).
package vfd

import (
	"errors"
	"io"
	"strconv"
	"time"
)

// Command bytes.
const (
	esc = 0x1b

	cmdInit      = 'I' // ESC I: reset, clear, cursor home
	cmdLuminance = 'L' // ESC L n: brightness 0x00-0xff
	cmdPosition  = 'H' // ESC H n: move cursor to linear cell n

	ctlClear       = 0x0e // clear display, cursor home
	ctlCursorOn    = 0x13
	ctlCursorOff   = 0x14
	ctlCursorBlink = 0x15
)

// resetSettle is how long the controller needs after ESC I before it
// accepts further commands.
const resetSettle = 10 * time.Millisecond

// Geometry of the CU40026.
const (
	Columns = 40
	Rows    = 2
)

// Device is a CU40026 attached to w.
type Device struct {
	w     io.Writer
	cells int
	cmd   [3]byte
	sleep func(time.Duration)
}

// New returns a Device writing to w. cells bounds MoveCursor; 0 means 80.
func New(w io.Writer, cells int) *Device {
	if cells <= 0 {
		cells = Columns * Rows
	}
	return &Device{w: w, cells: cells, sleep: time.Sleep}
}

// Init resets the display controller and clears the screen. It returns once
// the controller has settled.
func (d *Device) Init() error {
	if err := d.command(esc, cmdInit); err != nil {
		return err
	}
	d.sleep(resetSettle)
	return nil
}

// Clear blanks every cell and homes the cursor.
func (d *Device) Clear() error {
	return d.command(ctlClear)
}

// ShowCursor switches the cursor between blinking and invisible.
func (d *Device) ShowCursor(on bool) error {
	if on {
		return d.command(ctlCursorBlink)
	}
	return d.command(ctlCursorOff)
}

// SetLuminance sets the brightness, 0 being the dimmest level.
func (d *Device) SetLuminance(level uint8) error {
	return d.command(esc, cmdLuminance, level)
}

// MoveCursor places the cursor at a linear cell offset; row 1 starts at 40.
func (d *Device) MoveCursor(pos int) error {
	if pos < 0 || pos >= d.cells {
		return errors.New("vfd: cursor position " + strconv.Itoa(pos) + " out of range")
	}
	return d.command(esc, cmdPosition, byte(pos))
}

// WriteString writes text at the cursor. The text must already be in the
// display's code page.
func (d *Device) WriteString(s string) error {
	_, err := io.WriteString(d.w, s)
	return err
}

// WriteBytes writes raw bytes at the cursor.
func (d *Device) WriteBytes(b []byte) error {
	_, err := d.w.Write(b)
	return err
}

func (d *Device) command(b ...byte) error {
	n := copy(d.cmd[:], b)
	_, err := d.w.Write(d.cmd[:n])
	return err
}
