// Package netlink keeps the WiFi link up. A Supervisor drives a Radio
// through association and address configuration, and starts over after a
// fixed delay whenever a step fails or the link is lost. It never gives up.
package netlink

import (
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// State is the link state owned by the Supervisor.
type State uint8

const (
	Disconnected State = iota
	Associating
	Connected
	LinkUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Associating:
		return "associating"
	case Connected:
		return "connected"
	case LinkUp:
		return "link up"
	}
	return "unknown"
}

// Radio is the network interface under supervision.
type Radio interface {
	// Start powers the radio up. It is called before every association
	// attempt until it succeeds once.
	Start() error
	// Join makes a single association attempt.
	Join(ssid, pass string) error
	// ConfigureAddress obtains an address, typically over DHCP.
	ConfigureAddress() (netip.Addr, error)
}

// Config configures a Supervisor.
type Config struct {
	SSID     string
	Password string
	// RetryDelay is the fixed wait after a failure or disconnect.
	RetryDelay time.Duration
	// DeadCycles is how many consecutive dead refresh cycles count as a
	// disconnect. Zero disables the watchdog.
	DeadCycles int
	Logger     *slog.Logger
}

// Supervisor runs the link state machine. State is written only by the
// goroutine calling Run; other goroutines observe it through Up, States and
// the accessor methods.
type Supervisor struct {
	radio Radio
	cfg   Config
	log   *slog.Logger
	sleep func(time.Duration)

	mu      sync.Mutex
	state   State
	addr    netip.Addr
	started bool
	up      chan struct{} // closed while the link is up
	dead    int           // consecutive dead cycles

	states     chan State
	disconnect chan struct{}
}

// New returns a Supervisor in the Disconnected state.
func New(radio Radio, cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Supervisor{
		radio:      radio,
		cfg:        cfg,
		log:        logger,
		sleep:      time.Sleep,
		up:         make(chan struct{}),
		states:     make(chan State, 4),
		disconnect: make(chan struct{}, 1),
	}
}

// Run drives the state machine forever. Call it from its own goroutine.
func (s *Supervisor) Run() {
	for {
		s.step()
	}
}

// step performs one transition.
func (s *Supervisor) step() {
	switch s.State() {
	case Disconnected:
		s.setState(Associating)

	case Associating:
		if !s.started {
			if err := s.radio.Start(); err != nil {
				s.log.Error("netlink:start-failed", slog.String("err", err.Error()))
				s.retry()
				return
			}
			s.started = true
		}
		if len(s.cfg.Password) == 0 {
			s.log.Info("netlink:joining open network", slog.String("ssid", s.cfg.SSID))
		} else {
			s.log.Info("netlink:joining WPA secure network", slog.String("ssid", s.cfg.SSID), slog.Int("passlen", len(s.cfg.Password)))
		}
		if err := s.radio.Join(s.cfg.SSID, s.cfg.Password); err != nil {
			s.log.Error("netlink:join-failed", slog.String("err", err.Error()))
			s.retry()
			return
		}
		s.setState(Connected)

	case Connected:
		addr, err := s.radio.ConfigureAddress()
		if err != nil {
			s.log.Error("netlink:address-failed", slog.String("err", err.Error()))
			s.retry()
			return
		}
		s.mu.Lock()
		s.addr = addr
		s.dead = 0
		s.mu.Unlock()
		// Drop disconnect reports raised while the link was down.
		select {
		case <-s.disconnect:
		default:
		}
		s.setState(LinkUp)
		s.log.Info("netlink:link-up", slog.String("addr", addr.String()))

	case LinkUp:
		<-s.disconnect
		s.log.Error("netlink:disconnected")
		s.retry()
	}
}

// retry returns to Disconnected and waits the fixed retry delay.
func (s *Supervisor) retry() {
	s.setState(Disconnected)
	s.sleep(s.cfg.RetryDelay)
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	switch {
	case st == LinkUp && prev != LinkUp:
		close(s.up)
	case st != LinkUp && prev == LinkUp:
		s.up = make(chan struct{})
		s.addr = netip.Addr{}
	}
	s.mu.Unlock()

	select {
	case s.states <- st:
	default:
	}
}

// State returns the current link state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the configured address, invalid unless the link is up.
func (s *Supervisor) Addr() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Up returns a channel that is closed while the link is up. After a
// disconnect a new channel is handed out.
func (s *Supervisor) Up() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up
}

// WaitLinkUp blocks until the link is up and returns its address.
func (s *Supervisor) WaitLinkUp() netip.Addr {
	<-s.Up()
	return s.Addr()
}

// States delivers state transitions. Transitions are dropped while the
// channel is full, so readers only ever see a best-effort history.
func (s *Supervisor) States() <-chan State { return s.states }

// NotifyDisconnect reports that the link was lost. It never blocks.
func (s *Supervisor) NotifyDisconnect() {
	select {
	case s.disconnect <- struct{}{}:
	default:
	}
}

// ReportCycle feeds the link watchdog with the outcome of a refresh cycle.
// After DeadCycles consecutive cycles in which nothing got through, the link
// is treated as lost.
func (s *Supervisor) ReportCycle(dead bool) {
	if s.cfg.DeadCycles <= 0 {
		return
	}
	s.mu.Lock()
	if !dead {
		s.dead = 0
		s.mu.Unlock()
		return
	}
	s.dead++
	trip := s.dead >= s.cfg.DeadCycles && s.state == LinkUp
	if trip {
		s.dead = 0
	}
	s.mu.Unlock()

	if trip {
		s.log.Warn("netlink:watchdog-tripped", slog.Int("cycles", s.cfg.DeadCycles))
		s.NotifyDisconnect()
	}
}
