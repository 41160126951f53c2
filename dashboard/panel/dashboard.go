package panel

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/harveysanders/vfdash/dashboard/charset"
	"github.com/harveysanders/vfdash/dashboard/config"
	"github.com/harveysanders/vfdash/dashboard/hass"
)

// CycleReport summarises one refresh cycle.
type CycleReport struct {
	Rendered        int   // entities rendered with a fetched state
	Failed          int   // entities rendered as ERR
	TransportFailed int   // subset of Failed caused by transport errors
	DisplayErr      error // first display failure; the cycle stopped there
}

// LinkDead reports whether every entity fetch failed at the transport level,
// which is how a lost network link looks from the refresh loop.
func (r CycleReport) LinkDead() bool {
	return r.Rendered == 0 && r.Failed > 0 && r.Failed == r.TransportFailed
}

// Dashboard owns the display and the per-field render state.
type Dashboard struct {
	display  Display
	fetcher  Fetcher
	entities []config.Entity
	render   *Renderer
	lum      *Luminance
	log      *slog.Logger

	defaultLuminance uint8
	interval         time.Duration
	cells            int

	// lengths[i] is the value-region width last drawn for entities[i].
	lengths []int
	// dirty is set when the screen holds something other than fields,
	// a status line or the remains of a failed write.
	dirty  bool
	status []byte

	// OnCycle is called after every cycle when set.
	OnCycle func(CycleReport)
	sleep   func(time.Duration)
}

// New builds a Dashboard for cfg. logger may be nil.
func New(display Display, fetcher Fetcher, cfg *config.Config, logger *slog.Logger) (*Dashboard, error) {
	if display == nil || fetcher == nil {
		return nil, errors.New("panel: nil display or fetcher")
	}
	enc, err := charset.Lookup(cfg.Display.Charset)
	if err != nil {
		return nil, errors.New("panel: " + err.Error())
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	d := &Dashboard{
		display:          display,
		fetcher:          fetcher,
		entities:         cfg.Entities,
		render:           NewRenderer(enc),
		log:              logger,
		defaultLuminance: cfg.DefaultLuminance,
		interval:         cfg.Refresh,
		cells:            cfg.Display.Cells(),
		lengths:          make([]int, len(cfg.Entities)),
		status:           make([]byte, 0, cfg.Display.Cells()),
		sleep:            time.Sleep,
	}
	d.lum = &Luminance{
		EntityID: cfg.LuminanceEntity,
		Fetcher:  fetcher,
		Display:  display,
		Logger:   logger,
	}
	return d, nil
}

// Start initialises the display, hides the cursor and applies the default
// brightness. Errors here mean the display is not usable at all.
func (d *Dashboard) Start() error {
	if err := d.display.Init(); err != nil {
		return errors.New("display init: " + err.Error())
	}
	if err := d.display.ShowCursor(false); err != nil {
		return errors.New("display cursor: " + err.Error())
	}
	if err := d.lum.Apply(d.defaultLuminance); err != nil {
		return errors.New("display luminance: " + err.Error())
	}
	return nil
}

// Luminance returns the brightness currently applied.
func (d *Dashboard) Luminance() uint8 { return d.lum.Level() }

// ShowStatus replaces the screen with a single status message. The next
// cycle clears it before drawing fields. A display failure is logged and
// returned.
func (d *Dashboard) ShowStatus(msg string) error {
	d.dirty = true
	err := d.showStatus(msg)
	if err != nil {
		d.log.Error("display:status-failed", slog.String("status", msg), slog.String("err", err.Error()))
	}
	return err
}

func (d *Dashboard) showStatus(msg string) error {
	if err := d.display.Clear(); err != nil {
		return err
	}
	if err := d.display.MoveCursor(0); err != nil {
		return err
	}
	d.status = charset.AppendString(d.status[:0], d.render.enc, msg)
	if len(d.status) > d.cells {
		d.status = d.status[:d.cells]
	}
	return d.display.WriteBytes(d.status)
}

// Cycle performs one refresh: luminance first, then every entity in
// position order. A failed fetch only affects its own field. A display
// error ends the cycle early and forces a full redraw next time.
func (d *Dashboard) Cycle() CycleReport {
	var report CycleReport
	if d.dirty {
		if err := d.display.Clear(); err != nil {
			d.log.Error("display:clear-failed", slog.String("err", err.Error()))
			report.DisplayErr = err
			return report
		}
		for i := range d.lengths {
			d.lengths[i] = 0
		}
		d.dirty = false
	}

	d.lum.Update()

	for i, e := range d.entities {
		state, err := d.fetcher.Fetch(e.ID)
		if err != nil {
			report.Failed++
			if hass.KindOf(err) == hass.KindTransport {
				report.TransportFailed++
			}
			d.log.Error("entity:fetch-failed",
				slog.String("entity", e.ID),
				slog.String("err", err.Error()),
			)
		} else {
			report.Rendered++
			d.log.Debug("entity:state", slog.String("entity", e.ID), slog.String("state", string(state)))
		}

		n, derr := d.render.Render(d.display, e, state, err, d.lengths[i])
		d.lengths[i] = n
		if derr != nil {
			d.log.Error("display:write-failed",
				slog.String("entity", e.ID),
				slog.String("err", derr.Error()),
			)
			report.DisplayErr = derr
			d.dirty = true
			return report
		}
	}
	return report
}

// Run waits for the link to come up once, then cycles forever, sleeping the
// refresh interval after each cycle. It does not watch the link afterwards:
// a lost link shows up as failed fetches until it is restored.
func (d *Dashboard) Run(linkUp <-chan struct{}) {
	<-linkUp
	d.log.Info("dashboard:running", slog.Duration("interval", d.interval), slog.Int("entities", len(d.entities)))
	for {
		report := d.Cycle()
		if d.OnCycle != nil {
			d.OnCycle(report)
		}
		d.sleep(d.interval)
	}
}
