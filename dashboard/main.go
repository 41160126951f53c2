//go:build tinygo

// Command dashboard is the Pico W firmware: it polls Home Assistant entity
// states over WiFi and shows them on a character display.
//
// Credentials are set at link time:
//
//	tinygo flash -target=pico -ldflags="-X 'github.com/harveysanders/vfdash/dashboard/config.ssid=MyNet' -X 'github.com/harveysanders/vfdash/dashboard/config.pass=secret' -X 'github.com/harveysanders/vfdash/dashboard/config.token=eyJ...'" ./dashboard
package main

import (
	"errors"
	"log/slog"
	"machine"
	"time"

	"github.com/harveysanders/vfdash/dashboard/config"
	"github.com/harveysanders/vfdash/dashboard/cyw43439"
	"github.com/harveysanders/vfdash/dashboard/hass"
	"github.com/harveysanders/vfdash/dashboard/lcd"
	"github.com/harveysanders/vfdash/dashboard/netlink"
	"github.com/harveysanders/vfdash/dashboard/panel"
	"github.com/harveysanders/vfdash/dashboard/vfd"
)

const (
	vfdBaud    = 19200
	tcpBufSize = 2030 // MTU - ethhdr - iphdr - tcphdr
)

func main() {
	// Give the serial monitor a moment to attach.
	time.Sleep(2 * time.Second)
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	netLogger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Default()
	if err != nil {
		printErrForever(logger, "config:invalid", slog.String("err", err.Error()))
	}
	if config.SSID() == "" {
		printErrForever(logger, "config:missing-ssid", slog.String("hint", "set config.ssid with -ldflags -X"))
	}

	display, err := newDisplay(cfg.Display)
	if err != nil {
		printErrForever(logger, "display:setup-failed", slog.String("err", err.Error()))
	}

	stack, err := cyw43439.NewStack(cyw43439.StackConfig{
		Hostname:    cfg.Hostname,
		MaxTCPPorts: 1,
		Logger:      netLogger,
	})
	if err != nil {
		printErrForever(logger, "stack:setup-failed", slog.String("err", err.Error()))
	}
	dialer, err := cyw43439.NewDialer(stack, tcpBufSize)
	if err != nil {
		printErrForever(logger, "stack:setup-failed", slog.String("err", err.Error()))
	}
	dialer.DialTimeout = cfg.FetchTimeout

	client, err := hass.NewClient(dialer, hass.Config{
		BaseURL:            cfg.BaseURL,
		Token:              cfg.Token,
		Timeout:            cfg.FetchTimeout,
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		RootCA:             cfg.TLSRootCA,
		Logger:             logger,
	})
	if err != nil {
		printErrForever(logger, "hass:setup-failed", slog.String("err", err.Error()))
	}

	dash, err := panel.New(display, client, cfg, logger)
	if err != nil {
		printErrForever(logger, "dashboard:setup-failed", slog.String("err", err.Error()))
	}
	if err := dash.Start(); err != nil {
		printErrForever(logger, "dashboard:start-failed", slog.String("err", err.Error()))
	}

	sup := netlink.New(stack, netlink.Config{
		SSID:       config.SSID(),
		Password:   config.Password(),
		RetryDelay: cfg.RetryDelay,
		DeadCycles: cfg.DeadCycles,
		Logger:     logger,
	})
	go sup.Run()

	// The display belongs to this goroutine, so status lines are drawn here
	// until the link comes up for the first time. ShowStatus logs its own
	// display failures.
	up := sup.Up()
	_ = dash.ShowStatus(statusLine(netlink.Disconnected))
	for waiting := true; waiting; {
		select {
		case st := <-sup.States():
			_ = dash.ShowStatus(statusLine(st))
		case <-up:
			waiting = false
		}
	}
	logger.Info("dashboard:link-up", slog.String("addr", sup.Addr().String()))

	dash.OnCycle = func(r panel.CycleReport) {
		dead := r.LinkDead()
		sup.ReportCycle(dead)
		stack.SetLED(!dead && r.DisplayErr == nil)
	}
	dash.Run(up)
}

// newDisplay sets up the configured display: the VFD on UART1 (GP8 TX,
// 8E1) or the LCD on I2C0 (GP4 SDA, GP5 SCL).
func newDisplay(d config.Display) (panel.Display, error) {
	switch d.Kind {
	case config.DisplayLCD:
		err := machine.I2C0.Configure(machine.I2CConfig{
			SDA: machine.GP4,
			SCL: machine.GP5,
		})
		if err != nil {
			return nil, errors.New("configure I2C: " + err.Error())
		}
		return lcd.NewI2C(machine.I2C0, d.I2CAddr, d.Columns, d.Rows)

	default:
		uart := machine.UART1
		err := uart.Configure(machine.UARTConfig{
			BaudRate: vfdBaud,
			TX:       machine.GP8,
			RX:       machine.GP9,
		})
		if err != nil {
			return nil, errors.New("configure UART: " + err.Error())
		}
		if err := uart.SetFormat(8, 1, machine.ParityEven); err != nil {
			return nil, errors.New("configure UART format: " + err.Error())
		}
		return vfd.New(uart, d.Cells()), nil
	}
}

func statusLine(st netlink.State) string {
	switch st {
	case netlink.Associating:
		return "Joining " + config.SSID() + "..."
	case netlink.Connected:
		return "Requesting address..."
	case netlink.LinkUp:
		return "Connected"
	}
	return "WiFi disconnected"
}

// printErrForever logs msg to serial @ 1hz. It blocks forever, so the
// message is seen even when the monitor attaches late.
func printErrForever(logger *slog.Logger, msg string, args ...any) {
	for {
		logger.Error(msg, args...)
		time.Sleep(time.Second)
	}
}
