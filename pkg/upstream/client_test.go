package upstream

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tunegate/pkg/config"
	"tunegate/pkg/logging"

	"github.com/andybalholm/brotli"
)

func testConfig() *config.Config {
	return &config.Config{
		MediaTimeout:    5 * time.Second,
		PlaylistTimeout: 5 * time.Second,
		MaxRetries:      1,
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return New(testConfig(), logging.New("debug", false, io.Discard))
}

func TestFetchMedia_SendsBrowserHeaders(t *testing.T) {
	var gotUA, gotReferer, gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotRange = r.Header.Get("Range")
		w.Write([]byte("media"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.FetchMedia(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("FetchMedia error: %v", err)
	}
	defer resp.Body.Close()

	if !strings.Contains(gotUA, "Chrome") {
		t.Errorf("User-Agent = %q, want a Chrome UA", gotUA)
	}
	if !strings.Contains(gotReferer, "youtube.com") {
		t.Errorf("Referer = %q, want the platform referer", gotReferer)
	}
	if gotRange != "" {
		t.Errorf("Range = %q, want unset when the client sent none", gotRange)
	}
}

func TestFetchMedia_ForwardsRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=100-199" {
			t.Errorf("Range = %q, want bytes=100-199", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 100-199/1000")
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(bytes.Repeat([]byte("x"), 100))
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.FetchMedia(context.Background(), srv.URL, "bytes=100-199")
	if err != nil {
		t.Fatalf("FetchMedia error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("status = %d, want 206", resp.StatusCode)
	}
	if resp.ContentRange != "bytes 100-199/1000" {
		t.Errorf("ContentRange = %q", resp.ContentRange)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 100 {
		t.Errorf("body length = %d, want 100", len(body))
	}
}

func TestFetchMedia_StatusError(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "forbidden", status: http.StatusForbidden},
		{name: "server error", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t)
			_, err := c.FetchMedia(context.Background(), srv.URL, "")

			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("err = %v, want StatusError", err)
			}
			if statusErr.Code != tt.status {
				t.Errorf("code = %d, want %d", statusErr.Code, tt.status)
			}
		})
	}
}

func TestFetchMedia_ConnectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // the port now refuses connections

	c := newTestClient(t)
	_, err := c.FetchMedia(context.Background(), srv.URL, "")
	if err == nil {
		t.Fatal("expected error for unreachable host")
	}
	if !errors.Is(err, ErrConnect) {
		t.Errorf("err = %v, want ErrConnect", err)
	}
}

func TestFetchPlaylist_Plain(t *testing.T) {
	const manifest = "#EXTM3U\nseg0.ts\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ae := r.Header.Get("Accept-Encoding"); !strings.Contains(ae, "br") {
			t.Errorf("Accept-Encoding = %q, want a browser bundle with br", ae)
		}
		io.WriteString(w, manifest)
	}))
	defer srv.Close()

	c := newTestClient(t)
	body, err := c.FetchPlaylist(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPlaylist error: %v", err)
	}
	if string(body) != manifest {
		t.Errorf("body = %q, want %q", body, manifest)
	}
}

func TestFetchPlaylist_DecodesGzip(t *testing.T) {
	const manifest = "#EXTM3U\n#EXTINF:4,\nseg0.ts\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		io.WriteString(gz, manifest)
		gz.Close()
	}))
	defer srv.Close()

	c := newTestClient(t)
	body, err := c.FetchPlaylist(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPlaylist error: %v", err)
	}
	if string(body) != manifest {
		t.Errorf("decoded body = %q, want %q", body, manifest)
	}
}

func TestFetchPlaylist_DecodesDeflate(t *testing.T) {
	const manifest = "#EXTM3U\n#EXTINF:4,\nseg0.ts\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "deflate")
		zw := zlib.NewWriter(w)
		io.WriteString(zw, manifest)
		zw.Close()
	}))
	defer srv.Close()

	c := newTestClient(t)
	body, err := c.FetchPlaylist(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPlaylist error: %v", err)
	}
	if string(body) != manifest {
		t.Errorf("decoded body = %q, want %q", body, manifest)
	}
}

func TestFetchPlaylist_DecodesBrotli(t *testing.T) {
	const manifest = "#EXTM3U\n#EXTINF:4,\nseg0.ts\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		br := brotli.NewWriter(w)
		io.WriteString(br, manifest)
		br.Close()
	}))
	defer srv.Close()

	c := newTestClient(t)
	body, err := c.FetchPlaylist(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPlaylist error: %v", err)
	}
	if string(body) != manifest {
		t.Errorf("decoded body = %q, want %q", body, manifest)
	}
}

func TestFetchPlaylist_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.FetchPlaylist(context.Background(), srv.URL)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Code != http.StatusForbidden {
		t.Errorf("code = %d, want 403", statusErr.Code)
	}
}

func TestNeedsUTLS(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{"https://rr3---sn-abc.googlevideo.com/videoplayback?id=1", true},
		{"https://www.youtube.com/watch?v=abc", true},
		{"https://youtube.com/watch?v=abc", true},
		{"https://i.ytimg.com/vi/abc/hqdefault.jpg", true},
		{"https://cdn.example.com/seg.ts", false},
		// Only the hostname decides routing; these mention a fingerprinting
		// domain in the path, query, or as a hostname substring.
		{"https://cdn.example.com/youtube.com/seg.ts", false},
		{"https://cdn.example.com/seg.ts?ref=https://www.youtube.com/", false},
		{"https://notyoutube.com/watch", false},
		{"https://youtube.com.evil.example/watch", false},
		{"://bad url", false},
	}

	for _, tt := range tests {
		if got := needsUTLS(tt.url); got != tt.expected {
			t.Errorf("needsUTLS(%q) = %v, want %v", tt.url, got, tt.expected)
		}
	}
}

func TestUTLSRoundTripper_HeaderDeadlineBoundsHandshake(t *testing.T) {
	// A listener that accepts and then stays silent: the TLS handshake can
	// never complete, so only the connection deadline can end the request.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	rt := newUTLSRoundTripper(150*time.Millisecond, nil)
	req, _ := http.NewRequest(http.MethodGet, "https://"+ln.Addr().String(), nil)

	start := time.Now()
	_, err = rt.RoundTrip(req)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error from silent upstream")
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("err = %v, want a timeout", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("request blocked for %v, want the header deadline to cut it off", elapsed)
	}
}

func TestUTLSRoundTripper_FallbackBoundsHeaderWait(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-done
	}))
	defer srv.Close()
	defer close(done)

	fallback := &http.Transport{ResponseHeaderTimeout: 150 * time.Millisecond}
	client := &http.Client{Transport: newUTLSRoundTripper(150*time.Millisecond, fallback)}

	start := time.Now()
	_, err := client.Get(srv.URL)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error from a server that never sends headers")
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("err = %v, want a timeout", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("request blocked for %v, want the header timeout to cut it off", elapsed)
	}
}

func TestClassify(t *testing.T) {
	if err := classify(context.DeadlineExceeded); !errors.Is(err, ErrTimeout) {
		t.Errorf("deadline exceeded classified as %v, want ErrTimeout", err)
	}
	if err := classify(errors.New("dial tcp: refused")); !errors.Is(err, ErrConnect) {
		t.Errorf("plain error classified as %v, want ErrConnect", err)
	}
}
