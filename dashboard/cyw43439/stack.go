//go:build tinygo

// Package cyw43439 runs the Pico W radio and the lneto network stack on top
// of it. Stack implements the link steps the supervisor drives one at a time,
// and Dialer opens the TCP connections the Home Assistant client uses.
//
// The stack setup follows the examples in the soypat/cyw43439 repository:
// https://github.com/soypat/cyw43439/tree/main/examples/common
package cyw43439

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/lneto/x/xnet"
)

const mtu = cyw43439.MTU

// StackConfig configures the lneto stack.
type StackConfig struct {
	// Hostname is used for DHCP requests.
	Hostname string
	// MaxTCPPorts is the number of TCP ports to open for the stack.
	MaxTCPPorts int
	// RequestedAddr is asked for over DHCP and assigned statically when
	// DHCP does not complete. Optional.
	RequestedAddr netip.Addr
	Logger        *slog.Logger
	// RandSeed is an optional random seed for the stack's PRNG.
	RandSeed int64
}

// Stack wraps the lneto StackAsync and CYW43439 device.
type Stack struct {
	s       xnet.StackAsync
	dev     *cyw43439.Device
	cfg     StackConfig
	log     *slog.Logger
	sendbuf []byte
	boot    time.Time
}

// NewStack returns an unstarted Stack.
func NewStack(cfg StackConfig) (*Stack, error) {
	if cfg.Hostname == "" {
		return nil, errors.New("empty hostname")
	}
	if cfg.MaxTCPPorts < 1 {
		cfg.MaxTCPPorts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Stack{
		cfg:     cfg,
		log:     logger,
		sendbuf: make([]byte, mtu),
		boot:    time.Now(),
	}, nil
}

// Start powers up the radio, resets the stack with the radio's hardware
// address and starts the packet pump.
func (s *Stack) Start() error {
	start := time.Now()
	dev := cyw43439.NewPicoWDevice()
	dev.SetLogger(s.log)

	s.log.Info("cyw43439:initializing")
	if err := dev.Init(cyw43439.DefaultWifiConfig()); err != nil {
		return errors.New("wifi init failed: " + err.Error())
	}
	s.log.Info("cyw43439:init", slog.Duration("duration", time.Since(start)))

	mac, err := dev.HardwareAddr6()
	if err != nil {
		return errors.New("get hardware address: " + err.Error())
	}
	err = s.s.Reset(xnet.StackConfig{
		Hostname:        s.cfg.Hostname,
		MaxTCPConns:     s.cfg.MaxTCPPorts,
		RandSeed:        time.Since(s.boot).Nanoseconds() ^ s.cfg.RandSeed,
		HardwareAddress: mac,
		MTU:             mtu,
	})
	if err != nil {
		return errors.New("stack reset: " + err.Error())
	}
	s.log.Info("cyw43439:ready", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	dev.RecvEthHandle(func(pkt []byte) error {
		return s.s.Demux(pkt, 0)
	})
	s.dev = dev
	go s.pump()
	return nil
}

// Join makes a single association attempt.
func (s *Stack) Join(ssid, pass string) error {
	if s.dev == nil {
		return errors.New("join: radio not started")
	}
	if err := s.dev.JoinWPA2(ssid, pass); err != nil {
		return errors.New("wifi join: " + err.Error())
	}
	s.log.Info("cyw43439:joined", slog.String("ssid", ssid))
	return nil
}

// ConfigureAddress runs DHCP and installs the lease, falling back to the
// requested address as a static one when DHCP fails.
func (s *Stack) ConfigureAddress() (netip.Addr, error) {
	requested := s.cfg.RequestedAddr
	if !requested.IsValid() {
		requested = netip.AddrFrom4([4]byte{})
	} else if !requested.Is4() {
		return netip.Addr{}, errors.New("only dhcpv4 supported")
	}

	const pollTime = 50 * time.Millisecond
	rstack := s.s.StackRetrying(pollTime)

	s.log.Info("dhcp:starting")
	results, err := rstack.DoDHCPv4(requested.As4(), 3*time.Second, 3)
	if err != nil {
		if !requested.IsUnspecified() {
			s.log.Info("dhcp:static-fallback", slog.String("ip", requested.String()))
			s.s.SetIPAddr(requested)
			return requested, nil
		}
		return netip.Addr{}, errors.New("dhcp failed: " + err.Error())
	}

	if err := s.s.AssimilateDHCPResults(results); err != nil {
		return netip.Addr{}, errors.New("assimilate dhcp: " + err.Error())
	}
	gatewayHW, err := rstack.DoResolveHardwareAddress6(results.Router, 500*time.Millisecond, 4)
	if err != nil {
		return netip.Addr{}, errors.New("resolve gateway: " + err.Error())
	}
	s.s.SetGateway6(gatewayHW)

	s.log.Info("dhcp:complete",
		slog.String("ourIP", results.AssignedAddr.String()),
		slog.String("router", results.Router.String()),
		slog.Uint64("lease_sec", uint64(results.TLease)),
	)
	return results.AssignedAddr, nil
}

// SetLED drives the LED wired to the radio's GPIO 0. It is a no-op before
// Start.
func (s *Stack) SetLED(on bool) {
	if s.dev == nil {
		return
	}
	if err := s.dev.GPIOSet(0, on); err != nil {
		s.log.Debug("cyw43439:led", slog.String("err", err.Error()))
	}
}

// Addr returns the stack's current IP address.
func (s *Stack) Addr() netip.Addr {
	return s.s.Addr()
}

// pump moves packets between the radio and the stack forever.
func (s *Stack) pump() {
	for {
		send, recv, _ := s.recvAndSend()
		if send == 0 && recv == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func (s *Stack) recvAndSend() (send, recv int, err error) {
	gotPacket, errRecv := s.dev.PollOne()
	if gotPacket {
		recv = 1
	}
	if errRecv != nil {
		s.log.Error("pump:poll", slog.String("err", errRecv.Error()))
	}

	send, err = s.s.Encapsulate(s.sendbuf, -1, 0)
	if err != nil {
		s.log.Error("pump:encapsulate", slog.Int("plen", send), slog.String("err", err.Error()))
	} else {
		err = errRecv
	}
	if send == 0 {
		return send, recv, err
	}

	err = s.dev.SendEth(s.sendbuf[:send])
	if err != nil {
		s.log.Error("pump:send", slog.Int("plen", send), slog.String("err", err.Error()))
	}
	return send, recv, err
}
