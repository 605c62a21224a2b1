package upstream

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// utlsRoundTripper dials with a Chrome TLS ClientHello so that hosts which
// fingerprint the handshake see the same browser the header bundle claims.
//
// The handshake and the wait for response headers run under a connection
// deadline derived from headerTimeout and the request context. The deadline is
// lifted once headers arrive so a media body can stream for as long as it
// needs.
type utlsRoundTripper struct {
	dialer        *net.Dialer
	h2Transport   *http2.Transport
	fallback      http.RoundTripper
	headerTimeout time.Duration
}

func newUTLSRoundTripper(headerTimeout time.Duration, fallback http.RoundTripper) *utlsRoundTripper {
	if fallback == nil {
		fallback = http.DefaultTransport
	}
	return &utlsRoundTripper{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 60 * time.Second,
		},
		h2Transport:   &http2.Transport{},
		fallback:      fallback,
		headerTimeout: headerTimeout,
	}
}

// headerDeadline picks the earlier of the header timeout and the request
// context's own deadline. A zero return means unbounded.
func (t *utlsRoundTripper) headerDeadline(req *http.Request) time.Time {
	var deadline time.Time
	if t.headerTimeout > 0 {
		deadline = time.Now().Add(t.headerTimeout)
	}
	if d, ok := req.Context().Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Only HTTPS needs the custom hello; everything else goes through the
	// pooled transport, which carries its own header timeout.
	if req.URL.Scheme != "https" {
		return t.fallback.RoundTrip(req)
	}

	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr = addr + ":443"
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	if deadline := t.headerDeadline(req); !deadline.IsZero() {
		conn.SetDeadline(deadline)
	}

	tlsConfig := &utls.Config{
		ServerName: req.URL.Hostname(),
	}
	utlsConn := utls.UClient(conn, tlsConfig, utls.HelloChrome_120)

	if err := utlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	if utlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(utlsConn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		// RoundTrip returns once response headers are in; the body streams
		// afterwards, so the deadline comes off here.
		resp, err := h2Conn.RoundTrip(req)
		if err != nil {
			conn.Close()
			return nil, err
		}
		utlsConn.SetDeadline(time.Time{})
		return resp, nil
	}

	// Fallback to HTTP/1.1
	return t.doHTTP1Request(utlsConn, req)
}

func (t *utlsRoundTripper) doHTTP1Request(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Headers arrived; lift the deadline so the body read is unbounded.
	conn.SetDeadline(time.Time{})

	// Tie the connection's lifetime to the body
	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}
