// Package playlist fetches HLS manifests and rewrites every segment or
// sub-playlist reference into a same-origin proxy URL.
package playlist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tunegate/pkg/interfaces"
	"tunegate/pkg/logging"
	"tunegate/pkg/metrics"
	"tunegate/pkg/upstream"
	"tunegate/pkg/urlutil"

	"github.com/grafov/m3u8"
)

// ContentType is the HLS manifest MIME type.
const ContentType = "application/vnd.apple.mpegurl"

// Rewrite transforms a manifest so that every reference line points back at
// the relay. The function is pure: line order is preserved, directive and
// blank lines are emitted byte-identical, and re-applying it to the same raw
// input yields the same output.
//
// Relative references resolve against the manifest's own base (its URL with
// the last path segment dropped); sibling resolution only.
func Rewrite(manifest, playlistURL string) string {
	base := urlutil.BaseOf(playlistURL)
	lines := strings.Split(manifest, "\n")
	out := make([]string, len(lines))

	for i, line := range lines {
		stripped := strings.TrimSpace(line)

		// Directives may carry inline attributes consumed by HLS clients;
		// they pass through untouched, as do blank lines.
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			out[i] = line
			continue
		}

		if urlutil.IsAbsolute(stripped) {
			out[i] = urlutil.ProxyRef(stripped)
		} else {
			out[i] = urlutil.ProxyRef(urlutil.JoinBase(base, stripped))
		}
	}

	return strings.Join(out, "\n")
}

// referenceCount reports how many lines of a manifest are reference lines.
func referenceCount(manifest string) int {
	count := 0
	for _, line := range strings.Split(manifest, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped != "" && !strings.HasPrefix(stripped, "#") {
			count++
		}
	}
	return count
}

// kind classifies a manifest as master or media for logging. Unparseable
// input is reported as unknown; the rewrite itself never depends on parsing.
func kind(manifest []byte) string {
	_, listType, err := m3u8.Decode(*bytes.NewBuffer(manifest), false)
	if err != nil {
		return "unknown"
	}
	switch listType {
	case m3u8.MASTER:
		return "master"
	case m3u8.MEDIA:
		return "media"
	}
	return "unknown"
}

// Handler serves GET /proxy_m3u8.
type Handler struct {
	fetcher interfaces.Fetcher
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New creates a playlist handler.
func New(fetcher interfaces.Fetcher, log *logging.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		fetcher: fetcher,
		log:     log.WithComponent("playlist"),
		metrics: m,
	}
}

// ServeHTTP fetches the manifest named by the url query parameter and
// responds with the rewritten text.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		h.writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	body, err := h.fetcher.FetchPlaylist(r.Context(), rawURL)
	if err != nil {
		h.writeFetchError(w, rawURL, err)
		return
	}

	rewritten := Rewrite(string(body), rawURL)
	h.metrics.PlaylistRewrites.Inc()
	h.metrics.PlaylistLines.Add(float64(referenceCount(rewritten)))

	h.log.Debug("manifest rewritten",
		"url", rawURL,
		"kind", kind(body),
		"size", len(body),
	)

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	// Manifests change between fetches for live streams.
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprint(w, rewritten)
}

func (h *Handler) writeFetchError(w http.ResponseWriter, rawURL string, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr):
		h.log.Warn("manifest fetch rejected", "url", rawURL, "status", statusErr.Code)
		h.writeError(w, statusErr.Code, fmt.Sprintf("failed to fetch m3u8: %d", statusErr.Code))
	case errors.Is(err, upstream.ErrTimeout):
		h.log.Warn("manifest fetch timeout", "url", rawURL)
		h.writeError(w, http.StatusGatewayTimeout, "m3u8 fetch timeout")
	case errors.Is(err, upstream.ErrConnect):
		h.log.Warn("manifest fetch failed", "url", rawURL, "error", err)
		h.writeError(w, http.StatusBadGateway, "connection failed")
	default:
		h.log.Error("manifest rewrite failed", "url", rawURL, "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
