// Package upstream implements the fetcher that opens HTTP(S) connections to
// origin media hosts. It forwards the client's Range header, sends a fixed
// browser-impersonation header bundle, follows redirects, retries transient
// connection failures, and classifies failures into the gateway's error
// taxonomy.
package upstream

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tunegate/pkg/config"
	"tunegate/pkg/logging"
	"tunegate/pkg/types"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/proxy"
)

// Sentinel errors for the transport-failure taxonomy. Handlers map these to
// 504 and 502 respectively.
var (
	ErrTimeout = errors.New("upstream timeout")
	ErrConnect = errors.New("upstream connection failed")
)

// StatusError reports a non-success upstream status. The code is passed
// through to the client verbatim.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.Code)
}

// Header bundle impersonating a desktop Chrome visiting the media platform's
// own page. Upstream hosts reject requests that lack these.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.9",
	"Referer":         "https://www.youtube.com/",
	"Origin":          "https://www.youtube.com",
	"Sec-Fetch-Dest":  "video",
	"Sec-Fetch-Mode":  "no-cors",
	"Sec-Fetch-Site":  "cross-site",
}

// Hosts that fingerprint TLS clients; requests to these go through the
// Chrome-hello utls transport.
var utlsHosts = []string{
	"googlevideo.com",
	"youtube.com",
	"ytimg.com",
}

// Client is the upstream fetcher.
type Client struct {
	media      *http.Client
	text       *http.Client
	utlsClient *http.Client
	log        *logging.Logger

	maxRetries      int
	playlistTimeout time.Duration
}

// New creates an upstream client from configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	transport := newTransport(cfg, log)

	c := &Client{
		log:             log.WithComponent("upstream"),
		maxRetries:      cfg.MaxRetries,
		playlistTimeout: cfg.PlaylistTimeout,
	}

	// Media fetches stream for an unbounded time; the only deadline is on
	// the header wait, not the body read.
	mediaTransport := transport.Clone()
	mediaTransport.ResponseHeaderTimeout = cfg.MediaTimeout
	c.media = &http.Client{Transport: mediaTransport}

	textTransport := transport.Clone()
	// Accept-Encoding is set manually on text fetches, so the transport must
	// not also negotiate (and transparently undo) gzip.
	textTransport.DisableCompression = true
	c.text = &http.Client{
		Transport: textTransport,
		Timeout:   cfg.PlaylistTimeout,
	}

	utlsFallback := transport.Clone()
	utlsFallback.ResponseHeaderTimeout = cfg.MediaTimeout
	c.utlsClient = &http.Client{Transport: newUTLSRoundTripper(cfg.MediaTimeout, utlsFallback)}

	return c
}

// newTransport builds the pooled transport, honoring GLOBAL_PROXY.
func newTransport(cfg *config.Config, log *logging.Logger) *http.Transport {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.GlobalProxy == "" {
		return transport
	}

	parsed, err := url.Parse(cfg.GlobalProxy)
	if err != nil {
		log.Error("invalid GLOBAL_PROXY, connecting directly", "proxy", cfg.GlobalProxy, "error", err)
		return transport
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			log.Error("failed to create SOCKS5 dialer", "error", err)
			return transport
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		log.Warn("unsupported proxy scheme, connecting directly", "scheme", parsed.Scheme)
	}

	return transport
}

// needsUTLS returns true if the URL's host fingerprints TLS clients. Only the
// hostname is consulted; the rest of the URL is client-supplied and a path or
// query mentioning one of these domains must not change the routing.
func needsUTLS(targetURL string) bool {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	hostname := strings.ToLower(parsed.Hostname())
	for _, domain := range utlsHosts {
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return true
		}
	}
	return false
}

// FetchMedia issues a GET for a media resource. The client's Range header is
// forwarded verbatim when present. The body is never buffered.
func (c *Client) FetchMedia(ctx context.Context, rawURL, rangeHeader string) (*types.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	for key, value := range browserHeaders {
		req.Header.Set(key, value)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	client := c.media
	if needsUTLS(rawURL) {
		client = c.utlsClient
	}

	resp, err := c.doWithRetry(client, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		c.log.Warn("media fetch rejected", "url", rawURL, "status", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return &types.UpstreamResponse{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.Header.Get("Content-Length"),
		ContentRange:  resp.Header.Get("Content-Range"),
		Body:          resp.Body,
	}, nil
}

// FetchPlaylist fetches a manifest in full. A browser Accept-Encoding is
// sent, so the body may come back gzip- or brotli-compressed and is decoded
// here before being returned.
func (c *Client) FetchPlaylist(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.playlistTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	for key, value := range browserHeaders {
		req.Header.Set(key, value)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	client := c.text
	if needsUTLS(rawURL) {
		client = c.utlsClient
	}

	resp, err := c.doWithRetry(client, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("playlist fetch rejected", "url", rawURL, "status", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("decode playlist body: %w", err)
	}
	return body, nil
}

// doWithRetry runs the request, retrying transient connection failures a
// bounded number of times. Timeouts are surfaced immediately; retrying a
// fetch that already waited out its deadline only doubles the damage.
func (c *Client) doWithRetry(client *http.Client, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := client.Do(req)
		if err == nil {
			return resp, nil
		}

		classified := classify(err)
		if errors.Is(classified, ErrTimeout) {
			return nil, classified
		}

		lastErr = classified
		c.log.Debug("upstream connect failed, retrying",
			"url", req.URL.String(),
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastErr
}

// classify maps a transport error onto the taxonomy sentinels.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnect, err)
}

// decodeBody reads the full response body, undoing Content-Encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	return io.ReadAll(reader)
}
