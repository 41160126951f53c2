// Package lcd adapts an HD44780 character LCD behind a PCF8574 I2C backpack
// to the dashboard's linear-cell display model.
//
// The HD44780 addresses rows separately, so text running past the end of a
// row is continued on the next row by the adapter, the way the VFD wraps by
// itself.
package lcd

import (
	"errors"
	"strconv"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/hd44780i2c"
)

// Device is the subset of hd44780i2c.Device used by Display.
type Device interface {
	ClearDisplay()
	SetCursor(x, y uint8)
	Print(data []byte)
	DisplayOn(option bool)
	CursorOn(option bool)
	CursorBlink(option bool)
	BacklightOn(option bool)
}

// Display draws on an HD44780 with the given geometry.
type Display struct {
	device  Device
	rows    int
	columns int
	pos     int
	buf     []byte
}

// New wraps a configured device.
func New(device Device, columns, rows int) *Display {
	return &Display{
		device:  device,
		rows:    rows,
		columns: columns,
		buf:     make([]byte, 0, columns*rows),
	}
}

// NewI2C configures the LCD on bus at addr. Common backpack addresses are
// 0x27 and 0x3F.
func NewI2C(bus drivers.I2C, addr uint8, columns, rows int) (*Display, error) {
	dev := hd44780i2c.New(bus, addr)
	err := dev.Configure(hd44780i2c.Config{
		Width:  uint8(columns),
		Height: uint8(rows),
	})
	if err != nil {
		return nil, errors.New("lcd: configure at 0x" + strconv.FormatUint(uint64(addr), 16) + ": " + err.Error())
	}
	return New(&dev, columns, rows), nil
}

// Init turns the display and backlight on and clears it.
func (d *Display) Init() error {
	d.device.DisplayOn(true)
	d.device.BacklightOn(true)
	return d.Clear()
}

// Clear blanks the screen and homes the cursor.
func (d *Display) Clear() error {
	d.device.ClearDisplay()
	d.pos = 0
	d.device.SetCursor(0, 0)
	return nil
}

// ShowCursor shows a blinking cursor or hides it.
func (d *Display) ShowCursor(on bool) error {
	d.device.CursorOn(on)
	d.device.CursorBlink(on)
	return nil
}

// SetLuminance switches the backlight, which has no dimming: zero turns it
// off, anything else on.
func (d *Display) SetLuminance(level uint8) error {
	d.device.BacklightOn(level > 0)
	return nil
}

// MoveCursor moves to a linear cell offset, row-major.
func (d *Display) MoveCursor(pos int) error {
	if pos < 0 || pos >= d.rows*d.columns {
		return errors.New("lcd: cursor position " + strconv.Itoa(pos) + " out of range")
	}
	d.pos = pos
	d.device.SetCursor(uint8(pos%d.columns), uint8(pos/d.columns))
	return nil
}

// WriteString writes s at the cursor.
func (d *Display) WriteString(s string) error {
	d.buf = append(d.buf[:0], s...)
	return d.WriteBytes(d.buf)
}

// WriteBytes writes b at the cursor, continuing on the next row at the end
// of a row and on the first row after the last.
func (d *Display) WriteBytes(b []byte) error {
	cells := d.rows * d.columns
	for len(b) > 0 {
		room := d.columns - d.pos%d.columns
		n := min(room, len(b))
		d.device.Print(b[:n])
		b = b[n:]
		d.pos += n
		if n == room {
			d.pos %= cells
			d.device.SetCursor(0, uint8(d.pos/d.columns))
		}
	}
	return nil
}
