package vfd

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestDeviceCommands(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, 0)

	steps := []struct {
		name string
		do   func() error
		want []byte
	}{
		{"init", d.Init, []byte{0x1b, 'I'}},
		{"cursor off", func() error { return d.ShowCursor(false) }, []byte{0x14}},
		{"luminance", func() error { return d.SetLuminance(100) }, []byte{0x1b, 'L', 100}},
		{"move", func() error { return d.MoveCursor(56) }, []byte{0x1b, 'H', 56}},
		{"text", func() error { return d.WriteString("VOC: ") }, []byte("VOC: ")},
		{"bytes", func() error { return d.WriteBytes([]byte{0xb0, 'C'}) }, []byte{0xb0, 'C'}},
		{"clear", d.Clear, []byte{0x0e}},
	}
	for _, s := range steps {
		buf.Reset()
		if err := s.do(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if !bytes.Equal(buf.Bytes(), s.want) {
			t.Errorf("%s wrote % x, want % x", s.name, buf.Bytes(), s.want)
		}
	}
}

func TestMoveCursorRange(t *testing.T) {
	d := New(&bytes.Buffer{}, 80)
	if err := d.MoveCursor(80); err == nil {
		t.Error("expected error for position 80")
	}
	if err := d.MoveCursor(-1); err == nil {
		t.Error("expected error for negative position")
	}
}

func TestEmulatorRoundTrip(t *testing.T) {
	emu := NewEmulator(0, 0)
	d := New(emu, 0)

	d.Init()
	d.ShowCursor(false)
	d.SetLuminance(42)
	d.MoveCursor(40)
	d.WriteString("O Temp: 9.0")
	d.WriteBytes([]byte{0xb0, 'C'})

	if emu.Luminance() != 42 {
		t.Errorf("Luminance = %d, want 42", emu.Luminance())
	}
	if emu.CursorVisible() {
		t.Error("cursor should be hidden")
	}
	if emu.Resets() != 1 {
		t.Errorf("Resets = %d", emu.Resets())
	}
	if got := emu.Span(40, 13); got != "O Temp: 9.0\xb0C" {
		t.Errorf("Span = %q", got)
	}
	if emu.Cursor() != 53 {
		t.Errorf("Cursor = %d, want 53", emu.Cursor())
	}
	lines := emu.Lines()
	if lines[1][:14] != "O Temp: 9.0°C" {
		t.Errorf("line 2 = %q", lines[1])
	}
	if len(lines[0]) != 40 {
		t.Errorf("line 1 length = %d", len(lines[0]))
	}

	d.Clear()
	if got := emu.Span(40, 6); got != "      " {
		t.Errorf("after clear = %q", got)
	}
}

func TestEmulatorSplitEscape(t *testing.T) {
	emu := NewEmulator(40, 2)
	emu.Write([]byte{0x1b})
	emu.Write([]byte{'H'})
	emu.Write([]byte{5, 'x'})
	if got := emu.Span(5, 1); got != "x" {
		t.Errorf("cell 5 = %q", got)
	}
}

// orderedWriter records writes and sleeps in the order they happen.
type orderedWriter struct {
	events []string
}

func (w *orderedWriter) Write(p []byte) (int, error) {
	w.events = append(w.events, "write "+string(p))
	return len(p), nil
}

func TestInitWaitsForReset(t *testing.T) {
	w := &orderedWriter{}
	d := New(w, 0)
	d.sleep = func(dur time.Duration) {
		w.events = append(w.events, "sleep "+dur.String())
	}

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.ShowCursor(false); err != nil {
		t.Fatal(err)
	}
	want := []string{"write \x1bI", "sleep 10ms", "write \x14"}
	if strings.Join(w.events, "|") != strings.Join(want, "|") {
		t.Errorf("events = %q, want %q", w.events, want)
	}
}

func TestSpanOutOfRange(t *testing.T) {
	emu := NewEmulator(40, 2)
	emu.Write([]byte("AB"))

	tests := []struct {
		pos, n int
		want   string
	}{
		{0, 2, "AB"},
		{78, 5, "  "},
		{80, 1, ""},
		{200, 3, ""},
		{-1, 1, "A"},
		{1, -4, ""},
	}
	for _, tt := range tests {
		if got := emu.Span(tt.pos, tt.n); got != tt.want {
			t.Errorf("Span(%d, %d) = %q, want %q", tt.pos, tt.n, got, tt.want)
		}
	}
}
