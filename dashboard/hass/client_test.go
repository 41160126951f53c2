package hass

import (
	"encoding/pem"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, srv *httptest.Server, mod func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		BaseURL: srv.URL + "/api/states/",
		Token:   "secret",
		Timeout: 2 * time.Second,
	}
	if mod != nil {
		mod(&cfg)
	}
	c, err := NewClient(&net.Dialer{}, cfg)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestFetchState(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entity_id":"sensor.temperature","state":"21.4","attributes":{"unit_of_measurement":"°C"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	state, err := c.Fetch("sensor.temperature")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if string(state) != "21.4" {
		t.Errorf("state = %q, want 21.4", state)
	}
	if gotPath != "/api/states/sensor.temperature" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotAuth)
	}
}

func TestFetchKeepsBearerPrefix(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"state":"on"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) { cfg.Token = "Bearer abc" })
	if _, err := c.Fetch("light.kitchen"); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestFetchUnescapesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"a\"b °"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	state, err := c.Fetch("sensor.x")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if string(state) != "a\"b °" {
		t.Errorf("state = %q", state)
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		wantErr  error
	}{
		{"not found", http.StatusNotFound, `{"message":"Entity not found."}`, KindStatus, ErrStatus},
		{"unauthorized", http.StatusUnauthorized, `401: Unauthorized`, KindStatus, ErrStatus},
		{"missing state", http.StatusOK, `{"entity_id":"sensor.x"}`, KindDecode, ErrDecode},
		{"malformed", http.StatusOK, `{"state":"21.4"`, KindDecode, ErrDecode},
		{"array", http.StatusOK, `["state"]`, KindDecode, ErrDecode},
		{"numeric state", http.StatusOK, `{"state":21.4}`, KindDecode, ErrDecode},
		{"not utf8", http.StatusOK, "{\"state\":\"\xff\xfe\"}", KindEncoding, ErrEncoding},
		{"too large", http.StatusOK, `{"state":"1","pad":"` + strings.Repeat("x", DefaultBufferSize) + `"}`, KindTruncated, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv, nil)
			_, err := c.Fetch("sensor.x")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf = %v, want %v (err: %v)", got, tt.wantKind, err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), "sensor.x") {
				t.Errorf("error %q does not name the entity", err)
			}
		})
	}
}

func TestFetchTransportErrors(t *testing.T) {
	t.Run("refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		addr := ln.Addr().String()
		ln.Close()

		c, err := NewClient(&net.Dialer{}, Config{BaseURL: "http://" + addr + "/api/states/", Timeout: time.Second})
		if err != nil {
			t.Fatal(err)
		}
		_, err = c.Fetch("sensor.x")
		if !errors.Is(err, ErrTransport) {
			t.Errorf("err = %v, want transport error", err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(3 * time.Second):
			}
		}))
		defer srv.Close()

		c := newTestClient(t, srv, func(cfg *Config) { cfg.Timeout = 100 * time.Millisecond })
		start := time.Now()
		_, err := c.Fetch("sensor.slow")
		if KindOf(err) != KindTransport {
			t.Errorf("err = %v, want transport error", err)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("fetch took %v, deadline not applied", elapsed)
		}
	})
}

func TestFetchReusesBuffer(t *testing.T) {
	states := []string{"first", "2nd"}
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"` + states[i] + `"}`))
		i++
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	first, err := c.Fetch("sensor.a")
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != "first" {
		t.Fatalf("first = %q", first)
	}
	second, err := c.Fetch("sensor.b")
	if err != nil {
		t.Fatal(err)
	}
	if string(second) != "2nd" {
		t.Errorf("second = %q", second)
	}
	if &first[0] != &second[0] {
		t.Error("expected both states to alias the scratch buffer")
	}
}

func TestFetchTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"42"}`))
	}))
	defer srv.Close()

	t.Run("unknown authority", func(t *testing.T) {
		c := newTestClient(t, srv, nil)
		_, err := c.Fetch("sensor.x")
		if KindOf(err) != KindTransport {
			t.Errorf("err = %v, want transport error from failed verification", err)
		}
	})

	t.Run("root ca", func(t *testing.T) {
		caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
		c := newTestClient(t, srv, func(cfg *Config) { cfg.RootCA = string(caPEM) })
		state, err := c.Fetch("sensor.x")
		if err != nil {
			t.Fatalf("Fetch error: %v", err)
		}
		if string(state) != "42" {
			t.Errorf("state = %q", state)
		}
	})

	t.Run("insecure", func(t *testing.T) {
		c := newTestClient(t, srv, func(cfg *Config) { cfg.InsecureSkipVerify = true })
		if _, err := c.Fetch("sensor.x"); err != nil {
			t.Fatalf("Fetch error: %v", err)
		}
	})
}

func TestNewClientRejects(t *testing.T) {
	for _, base := range []string{"ftp://ha/api/states/", "http://ha/api/states", "://"} {
		if _, err := NewClient(&net.Dialer{}, Config{BaseURL: base}); err == nil {
			t.Errorf("NewClient(%q) should fail", base)
		}
	}
	if _, err := NewClient(&net.Dialer{}, Config{BaseURL: "https://ha/api/", RootCA: "junk"}); err == nil {
		t.Error("NewClient with junk root CA should fail")
	}
}

func TestNewClientRejectsHTTPSWithoutTLS(t *testing.T) {
	tlsSupported = false
	defer func() { tlsSupported = true }()

	_, err := NewClient(&net.Dialer{}, Config{BaseURL: "https://ha.local:8123/api/states/", InsecureSkipVerify: true})
	if err == nil || !strings.Contains(err.Error(), "use http") {
		t.Errorf("err = %v, want https rejected at construction", err)
	}
	if _, err := NewClient(&net.Dialer{}, Config{BaseURL: "http://ha.local:8123/api/states/"}); err != nil {
		t.Errorf("http base url rejected: %v", err)
	}
}
