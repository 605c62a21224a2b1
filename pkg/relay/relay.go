// Package relay streams upstream media bytes to the client. Bytes are passed
// through chunk by chunk in arrival order; the full resource is never held in
// memory, and a stalled client naturally pauses upstream consumption.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"tunegate/pkg/interfaces"
	"tunegate/pkg/logging"
	"tunegate/pkg/metrics"
	"tunegate/pkg/upstream"
)

// TruncatedError signals that the upstream body failed mid-stream after
// response headers were already sent. The transport layer logs it and closes;
// the client sees a truncated body, not an error status.
type TruncatedError struct {
	Err error
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("upstream stream truncated: %v", e.Err)
}

func (e *TruncatedError) Unwrap() error { return e.Err }

// Handler serves GET /proxy.
type Handler struct {
	fetcher   interfaces.Fetcher
	log       *logging.Logger
	metrics   *metrics.Metrics
	chunkSize int
}

// New creates a relay handler.
func New(fetcher interfaces.Fetcher, log *logging.Logger, m *metrics.Metrics, chunkSize int) *Handler {
	if chunkSize <= 0 {
		chunkSize = 16 * 1024
	}
	return &Handler{
		fetcher:   fetcher,
		log:       log.WithComponent("relay"),
		metrics:   m,
		chunkSize: chunkSize,
	}
}

// ServeHTTP relays the upstream resource named by the url query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		h.metrics.RelayRequests.WithLabelValues("bad_request").Inc()
		h.writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	resp, err := h.fetcher.FetchMedia(r.Context(), rawURL, r.Header.Get("Range"))
	if err != nil {
		h.writeFetchError(w, rawURL, err)
		return
	}
	defer resp.Body.Close()

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	if resp.ContentLength != "" {
		w.Header().Set("Content-Length", resp.ContentLength)
	}
	if resp.ContentRange != "" {
		w.Header().Set("Content-Range", resp.ContentRange)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges, Content-Type")
	w.Header().Set("Cache-Control", "public, max-age=3600")

	// The client asked for a range; it must see 206 to trust range semantics.
	w.WriteHeader(resp.StatusCode)

	written, err := h.stream(w, r, resp.Body)
	h.metrics.RelayBytes.Add(float64(written))

	var trunc *TruncatedError
	switch {
	case err == nil:
		h.metrics.RelayRequests.WithLabelValues("ok").Inc()
	case errors.As(err, &trunc):
		// Headers are gone; the only option is to end the stream.
		h.metrics.RelayTruncations.Inc()
		h.log.Warn("stream truncated", "url", rawURL, "bytes", written, "error", trunc.Err)
	default:
		// Client went away; stop reading upstream.
		h.metrics.RelayRequests.WithLabelValues("client_gone").Inc()
		h.log.Debug("client disconnected", "url", rawURL, "bytes", written)
	}
}

// stream copies upstream bytes to the client in fixed-size chunks, flushing
// after each write so playback starts before the fetch completes.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, h.chunkSize)
	var written int64

	for {
		select {
		case <-r.Context().Done():
			return written, r.Context().Err()
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, &TruncatedError{Err: rerr}
		}
	}
}

// writeFetchError maps the upstream error taxonomy onto response statuses.
// Nothing has been written yet, so a proper status can still go out.
func (h *Handler) writeFetchError(w http.ResponseWriter, rawURL string, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr):
		h.metrics.RelayRequests.WithLabelValues("upstream_status").Inc()
		h.log.Warn("upstream rejected fetch", "url", rawURL, "status", statusErr.Code)
		h.writeError(w, statusErr.Code, fmt.Sprintf("upstream returned %d", statusErr.Code))
	case errors.Is(err, upstream.ErrTimeout):
		h.metrics.RelayRequests.WithLabelValues("timeout").Inc()
		h.log.Warn("upstream timeout", "url", rawURL)
		h.writeError(w, http.StatusGatewayTimeout, "request timeout")
	case errors.Is(err, upstream.ErrConnect):
		h.metrics.RelayRequests.WithLabelValues("connect").Inc()
		h.log.Warn("upstream connection failed", "url", rawURL, "error", err)
		h.writeError(w, http.StatusBadGateway, "connection failed")
	default:
		h.metrics.RelayRequests.WithLabelValues("error").Inc()
		h.log.Error("relay failed", "url", rawURL, "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
