//go:build tinygo

package cyw43439

import (
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/soypat/lneto/tcp"
)

// Dialer opens TCP connections over a Stack. It owns a single lneto
// connection with fixed buffers, so only one connection is open at a time:
// dialing again aborts whatever the previous caller left open.
type Dialer struct {
	stack *Stack
	log   *slog.Logger
	conn  tcp.Conn
	open  bool
	gen   uint32

	// DialTimeout bounds each handshake attempt.
	DialTimeout time.Duration
	// Retries is the number of handshake attempts per Dial.
	Retries int

	resolved map[string]netip.Addr
}

// NewDialer configures the connection buffers. bufSize is the size of each
// of the receive and transmit buffers.
func NewDialer(stack *Stack, bufSize int) (*Dialer, error) {
	d := &Dialer{
		stack:       stack,
		log:         stack.log,
		DialTimeout: 10 * time.Second,
		Retries:     3,
		resolved:    make(map[string]netip.Addr),
	}
	err := d.conn.Configure(tcp.ConnConfig{
		RxBuf:             make([]byte, bufSize),
		TxBuf:             make([]byte, bufSize),
		TxPacketQueueSize: 3,
	})
	if err != nil {
		return nil, errors.New("tcp configure: " + err.Error())
	}
	return d, nil
}

// Dial connects to address, a host:port pair. Host names are resolved over
// DNS once and cached until a dial to them fails.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, errors.New("dial: unsupported network " + network)
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, errors.New("dial " + address + ": " + err.Error())
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.New("dial " + address + ": bad port")
	}
	ip, err := d.resolve(host)
	if err != nil {
		return nil, err
	}

	if d.open {
		d.closeConn("redial")
	}

	const pollTime = 5 * time.Millisecond
	rstack := d.stack.s.StackRetrying(pollTime)
	localPort := uint16(d.stack.s.Prand32()>>17) + 1024
	remote := netip.AddrPortFrom(ip, uint16(port))
	d.log.Debug("socket:dialing", slog.String("remote", remote.String()), slog.Uint64("localPort", uint64(localPort)))

	err = rstack.DoDialTCP(&d.conn, localPort, remote, d.DialTimeout, d.Retries)
	if err != nil {
		d.closeConn("dial failed")
		delete(d.resolved, host)
		return nil, errors.New("dial " + address + ": " + err.Error())
	}
	d.open = true
	d.gen++
	return &conn{d: d, gen: d.gen, local: netip.AddrPortFrom(d.stack.Addr(), localPort), remote: remote}, nil
}

func (d *Dialer) resolve(host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip, nil
	}
	if ip, ok := d.resolved[host]; ok {
		return ip, nil
	}
	rstack := d.stack.s.StackRetrying(5 * time.Millisecond)
	d.log.Info("dns:resolving", slog.String("host", host))
	addrs, err := rstack.DoLookupIP(host, 5*time.Second, 3)
	if err != nil {
		return netip.Addr{}, errors.New("dns lookup for " + host + ": " + err.Error())
	}
	if len(addrs) == 0 {
		return netip.Addr{}, errors.New("dns lookup for " + host + ": no addresses returned")
	}
	d.resolved[host] = addrs[0]
	d.log.Info("dns:resolved", slog.String("host", host), slog.String("ip", addrs[0].String()))
	return addrs[0], nil
}

// closeConn closes gracefully, waits up to five seconds for the close to
// finish and aborts whatever is left so the connection can be reused.
func (d *Dialer) closeConn(reason string) {
	d.log.Debug("tcpconn:closing", slog.String("reason", reason))
	d.conn.Close()
	for i := 0; i < 50 && !d.conn.State().IsClosed(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	d.conn.Abort()
	d.open = false
}

// conn adapts the Dialer's lneto connection to net.Conn.
type conn struct {
	d      *Dialer
	gen    uint32
	local  netip.AddrPort
	remote netip.AddrPort
	closed bool
}

// stale reports whether the Dialer has moved on to another connection.
func (c *conn) stale() bool { return c.closed || c.gen != c.d.gen }

func (c *conn) Read(b []byte) (int, error) {
	if c.stale() {
		return 0, net.ErrClosed
	}
	return c.d.conn.Read(b)
}

func (c *conn) Write(b []byte) (int, error) {
	if c.stale() {
		return 0, net.ErrClosed
	}
	return c.d.conn.Write(b)
}

func (c *conn) Close() error {
	if c.stale() {
		return nil
	}
	c.closed = true
	if c.d.open {
		c.d.closeConn("done")
	}
	return nil
}

func (c *conn) SetDeadline(t time.Time) error {
	if c.stale() {
		return net.ErrClosed
	}
	c.d.conn.SetDeadline(t)
	return nil
}

func (c *conn) SetReadDeadline(t time.Time) error  { return c.SetDeadline(t) }
func (c *conn) SetWriteDeadline(t time.Time) error { return c.SetDeadline(t) }

func (c *conn) LocalAddr() net.Addr  { return addr(c.local) }
func (c *conn) RemoteAddr() net.Addr { return addr(c.remote) }

type addr netip.AddrPort

func (a addr) Network() string { return "tcp" }
func (a addr) String() string  { return netip.AddrPort(a).String() }
