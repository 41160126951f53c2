// Package hass fetches entity states from the Home Assistant REST API.
//
// A Client performs one request at a time over a fresh connection from its
// Dialer and decodes the response into a fixed scratch buffer. The state
// returned by Fetch aliases that buffer and is only valid until the next call
// to Fetch; callers that need it longer must copy it.
package hass

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/buger/jsonparser"
)

// DefaultBufferSize is the scratch buffer size. Home Assistant state
// documents are a few hundred bytes; entities with large attribute maps can
// exceed this and will fail with KindTruncated.
const DefaultBufferSize = 4096

// Dialer opens the TCP connection for each request. *net.Dialer satisfies it
// on a host; on the Pico the lneto stack provides one.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the state endpoint including the trailing slash,
	// e.g. "https://ha.local:8123/api/states/".
	BaseURL string
	// Token is the long-lived access token. A "Bearer " prefix is added when missing.
	Token   string
	Timeout time.Duration
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
	// RootCA is an optional PEM bundle used instead of the system roots.
	RootCA     string
	BufferSize int
	Logger     *slog.Logger
}

// Client fetches entity states. It is not safe for concurrent use: it owns a
// single request buffer and a single response buffer.
type Client struct {
	dialer  Dialer
	log     *slog.Logger
	timeout time.Duration

	addr string // host:port to dial
	host string // Host header
	path string // request path prefix
	auth string
	tls  *tls.Config

	req       []byte
	body      []byte
	unescaped []byte
	br        *bufio.Reader
}

// NewClient validates cfg and allocates the client's buffers once.
func NewClient(dialer Dialer, cfg Config) (*Client, error) {
	if dialer == nil {
		return nil, errors.New("hass: nil dialer")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.New("hass: parse base url: " + err.Error())
	}
	if !strings.HasSuffix(u.Path, "/") {
		return nil, errors.New("hass: base url path must end with /")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}

	c := &Client{
		dialer:  dialer,
		log:     logger,
		timeout: cfg.Timeout,
		host:    u.Host,
		path:    u.EscapedPath(),
		auth:    cfg.Token,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if !strings.HasPrefix(c.auth, "Bearer ") {
		c.auth = "Bearer " + c.auth
	}

	port := u.Port()
	switch u.Scheme {
	case "http":
		if port == "" {
			port = "80"
		}
	case "https":
		if !tlsSupported {
			return nil, errors.New("hass: https base url is not supported on this device, use http")
		}
		if port == "" {
			port = "443"
		}
		c.tls = &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
		if cfg.RootCA != "" {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM([]byte(cfg.RootCA)) {
				return nil, errors.New("hass: no certificates found in root CA PEM")
			}
			c.tls.RootCAs = pool
		}
		if cfg.InsecureSkipVerify {
			logger.Warn("hass:tls-verification-disabled",
				slog.String("host", u.Hostname()),
				slog.String("risk", "server identity is not checked"),
			)
		}
	default:
		return nil, errors.New("hass: unsupported scheme " + strconv.Quote(u.Scheme))
	}
	c.addr = net.JoinHostPort(u.Hostname(), port)

	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	c.req = make([]byte, 0, 256)
	c.body = make([]byte, size)
	c.unescaped = make([]byte, size)
	c.br = bufio.NewReaderSize(nil, 512)
	return c, nil
}

// Fetch requests the state of entityID. The returned slice aliases the
// client's buffer and is overwritten by the next Fetch. Errors are *Error.
// Fetch does not retry.
func (c *Client) Fetch(entityID string) ([]byte, error) {
	c.log.Debug("hass:request", slog.String("entity", entityID))

	conn, err := c.dialer.Dial("tcp", c.addr)
	if err != nil {
		return nil, c.fail(KindTransport, entityID, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, c.fail(KindTransport, entityID, err)
	}
	if c.tls != nil {
		tconn := tls.Client(conn, c.tls)
		if err := tconn.Handshake(); err != nil {
			return nil, c.fail(KindTransport, entityID, errors.New("tls handshake: "+err.Error()))
		}
		conn = tconn
	}

	c.req = c.appendRequest(c.req[:0], entityID)
	if _, err := conn.Write(c.req); err != nil {
		return nil, c.fail(KindTransport, entityID, err)
	}

	c.br.Reset(conn)
	resp, err := http.ReadResponse(c.br, nil)
	if err != nil {
		return nil, c.fail(KindTransport, entityID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(KindStatus, entityID, errors.New(resp.Status))
	}

	body, err := readBody(resp.Body, c.body)
	if err == errBodyTooLarge {
		return nil, c.fail(KindTruncated, entityID, errors.New("body exceeds "+strconv.Itoa(len(c.body))+" bytes"))
	} else if err != nil {
		return nil, c.fail(KindTransport, entityID, err)
	}
	c.log.Debug("hass:response", slog.String("entity", entityID), slog.Int("len", len(body)))

	return c.decodeState(entityID, body)
}

func (c *Client) appendRequest(b []byte, entityID string) []byte {
	b = append(b, "GET "...)
	b = append(b, c.path...)
	b = append(b, entityID...)
	b = append(b, " HTTP/1.1\r\nHost: "...)
	b = append(b, c.host...)
	b = append(b, "\r\nAuthorization: "...)
	b = append(b, c.auth...)
	b = append(b, "\r\nAccept: application/json\r\nUser-Agent: vfdash\r\nConnection: close\r\n\r\n"...)
	return b
}

// decodeState extracts the "state" string from body without copying it,
// unless it contains escapes.
func (c *Client) decodeState(entityID string, body []byte) ([]byte, error) {
	if !utf8.Valid(body) {
		return nil, c.fail(KindEncoding, entityID, nil)
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, c.fail(KindDecode, entityID, errors.New("not a JSON object"))
	}
	value, typ, _, err := jsonparser.Get(trimmed, "state")
	if err != nil {
		return nil, c.fail(KindDecode, entityID, errors.New("state: "+err.Error()))
	}
	if typ != jsonparser.String {
		return nil, c.fail(KindDecode, entityID, errors.New("state is "+typ.String()+", not a string"))
	}
	state, err := jsonparser.Unescape(value, c.unescaped)
	if err != nil {
		return nil, c.fail(KindDecode, entityID, errors.New("state: "+err.Error()))
	}
	return state, nil
}

func (c *Client) fail(kind Kind, entityID string, err error) error {
	return &Error{Kind: kind, EntityID: entityID, Err: err}
}

var errBodyTooLarge = errors.New("body too large")

// readBody reads r to EOF into buf. It fails with errBodyTooLarge instead of
// growing buf.
func readBody(r io.Reader, buf []byte) ([]byte, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err == io.EOF {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
	var probe [1]byte
	for {
		m, err := r.Read(probe[:])
		if m > 0 {
			return nil, errBodyTooLarge
		}
		if err == io.EOF {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}
