package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"tunegate/pkg/logging"
	"tunegate/pkg/metrics"
	"tunegate/pkg/types"
	"tunegate/pkg/upstream"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubFetcher struct {
	resp      *types.UpstreamResponse
	err       error
	lastURL   string
	lastRange string
}

func (s *stubFetcher) FetchMedia(ctx context.Context, rawURL, rangeHeader string) (*types.UpstreamResponse, error) {
	s.lastURL = rawURL
	s.lastRange = rangeHeader
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubFetcher) FetchPlaylist(ctx context.Context, rawURL string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

// failingReader returns some bytes then fails with a non-EOF error.
type failingReader struct {
	data []byte
	pos  int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, errors.New("connection reset")
	}
	n := copy(p, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func (f *failingReader) Close() error { return nil }

func newTestHandler(f *stubFetcher) *Handler {
	log := logging.New("debug", false, io.Discard)
	return New(f, log, metrics.New(), 8)
}

func proxyTarget(upstreamURL string) string {
	return "/proxy?url=" + url.QueryEscape(upstreamURL)
}

func TestHandler_MissingURL(t *testing.T) {
	fetcher := &stubFetcher{}
	h := newTestHandler(fetcher)

	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if fetcher.lastURL != "" {
		t.Error("fetcher was called for a request without a url parameter")
	}
}

func TestHandler_FullRelay(t *testing.T) {
	body := strings.Repeat("abcdefgh", 100)
	fetcher := &stubFetcher{resp: &types.UpstreamResponse{
		StatusCode:    http.StatusOK,
		ContentType:   "audio/webm",
		ContentLength: "800",
		Body:          io.NopCloser(strings.NewReader(body)),
	}}
	h := newTestHandler(fetcher)

	req := httptest.NewRequest(http.MethodGet, proxyTarget("https://cdn.example.com/a.webm"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != body {
		t.Errorf("body length = %d, want %d", len(got), len(body))
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/webm" {
		t.Errorf("Content-Type = %q, want audio/webm", ct)
	}
	if cl := rec.Header().Get("Content-Length"); cl != "800" {
		t.Errorf("Content-Length = %q, want 800", cl)
	}
	if ar := rec.Header().Get("Accept-Ranges"); ar != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", ar)
	}
	if fetcher.lastURL != "https://cdn.example.com/a.webm" {
		t.Errorf("fetched url = %q", fetcher.lastURL)
	}
}

func TestHandler_RangePassthrough(t *testing.T) {
	fetcher := &stubFetcher{resp: &types.UpstreamResponse{
		StatusCode:    http.StatusPartialContent,
		ContentType:   "video/mp4",
		ContentLength: "100",
		ContentRange:  "bytes 0-99/1000",
		Body:          io.NopCloser(strings.NewReader(strings.Repeat("x", 100))),
	}}
	h := newTestHandler(fetcher)

	req := httptest.NewRequest(http.MethodGet, proxyTarget("https://cdn.example.com/v.mp4"), nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Errorf("status = %d, want 206", rec.Code)
	}
	if cr := rec.Header().Get("Content-Range"); cr != "bytes 0-99/1000" {
		t.Errorf("Content-Range = %q, want bytes 0-99/1000", cr)
	}
	if fetcher.lastRange != "bytes=0-99" {
		t.Errorf("forwarded Range = %q, want bytes=0-99", fetcher.lastRange)
	}
}

func TestHandler_DefaultContentType(t *testing.T) {
	fetcher := &stubFetcher{resp: &types.UpstreamResponse{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("data")),
	}}
	h := newTestHandler(fetcher)

	req := httptest.NewRequest(http.MethodGet, proxyTarget("https://cdn.example.com/v"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4 default", ct)
	}
}

func TestHandler_FetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "upstream 404 passthrough", err: &upstream.StatusError{Code: 404}, wantStatus: 404},
		{name: "upstream 403 passthrough", err: &upstream.StatusError{Code: 403}, wantStatus: 403},
		{name: "timeout maps to 504", err: upstream.ErrTimeout, wantStatus: http.StatusGatewayTimeout},
		{name: "connect failure maps to 502", err: upstream.ErrConnect, wantStatus: http.StatusBadGateway},
		{name: "unexpected maps to 500", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&stubFetcher{err: tt.err})

			req := httptest.NewRequest(http.MethodGet, proxyTarget("https://cdn.example.com/v"), nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandler_MidStreamFailureTruncates(t *testing.T) {
	fetcher := &stubFetcher{resp: &types.UpstreamResponse{
		StatusCode:  http.StatusOK,
		ContentType: "video/mp4",
		Body:        &failingReader{data: []byte("partial-bytes")},
	}}
	h := newTestHandler(fetcher)

	req := httptest.NewRequest(http.MethodGet, proxyTarget("https://cdn.example.com/v"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Status was committed before the failure, so the client sees 200 plus
	// whatever bytes arrived.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "partial-bytes" {
		t.Errorf("body = %q, want the bytes delivered before the failure", got)
	}
}

func TestHandler_ClientDisconnectOutcome(t *testing.T) {
	fetcher := &stubFetcher{resp: &types.UpstreamResponse{
		StatusCode:  http.StatusOK,
		ContentType: "video/mp4",
		Body:        io.NopCloser(strings.NewReader("unread")),
	}}
	m := metrics.New()
	log := logging.New("debug", false, io.Discard)
	h := New(fetcher, log, m, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, proxyTarget("https://cdn.example.com/v"), nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(m.RelayRequests.WithLabelValues("client_gone")); got != 1 {
		t.Errorf("client_gone count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RelayRequests.WithLabelValues("ok")); got != 0 {
		t.Errorf("ok count = %v, want 0 for an abandoned relay", got)
	}
}

func TestStream_ClientDisconnect(t *testing.T) {
	h := newTestHandler(&stubFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	written, err := h.stream(rec, req, strings.NewReader("unread"))
	if written != 0 {
		t.Errorf("written = %d, want 0 after cancel", written)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
