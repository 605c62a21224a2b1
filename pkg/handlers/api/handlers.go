// Package api provides the JSON endpoints: resolution, playback state,
// control, and configuration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"tunegate/pkg/appctx"
	"tunegate/pkg/go2rtc"
	"tunegate/pkg/logging"
	"tunegate/pkg/resolver"
	"tunegate/pkg/state"
	"tunegate/pkg/types"
	"tunegate/pkg/urlutil"

	"golang.org/x/time/rate"
)

// Handlers contains all API handlers.
type Handlers struct {
	ctx     *appctx.Context
	log     *logging.Logger
	limiter *rate.Limiter
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx:     ctx,
		log:     ctx.Log.WithComponent("api"),
		limiter: rate.NewLimiter(rate.Limit(ctx.Config.ResolveRate), ctx.Config.ResolveBurst),
	}
}

// RegisterRoutes registers all API routes. The relay and playlist handlers
// are passed in because they live in their own packages.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, relay, playlist http.Handler) {
	mux.Handle("GET /proxy", relay)
	mux.Handle("GET /proxy_m3u8", playlist)

	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("POST /get_video_stream", h.handleGetVideoStream)
	mux.HandleFunc("POST /play", h.requireAuth(h.handlePlay))
	mux.HandleFunc("POST /play_on_go2rtc", h.requireAuth(h.handlePlayOnGo2rtc))

	mux.HandleFunc("GET /state", h.handleState)
	mux.HandleFunc("POST /control", h.requireAuth(h.handleControl))
	mux.HandleFunc("GET /config", h.handleConfig)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)

	mux.Handle("GET /metrics", h.ctx.Metrics.Handler())
}

// checkKey reports whether the request carries the configured API key.
// An empty configured key disables auth entirely.
func (h *Handlers) checkKey(r *http.Request) bool {
	if h.ctx.Config.APIKey == "" {
		return true
	}
	return r.Header.Get("X-API-Key") == h.ctx.Config.APIKey
}

// requireAuth rejects unauthorized requests before any side effect.
func (h *Handlers) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.checkKey(r) {
			h.log.Warn("unauthorized request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

type queryRequest struct {
	Query string `json:"query"`
}

// parseQuery decodes the request body and validates the query field.
func (h *Handlers) parseQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req queryRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "missing query",
		})
		return "", false
	}
	return query, true
}

// resolve runs the façade with rate limiting and instrumentation. The second
// return value is false when a response has already been written.
func (h *Handlers) resolve(ctx context.Context, w http.ResponseWriter, query string) (*types.MediaInfo, bool) {
	if !h.limiter.Allow() {
		h.ctx.Metrics.Resolutions.WithLabelValues("rate_limited").Inc()
		h.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"error":   "rate limited",
		})
		return nil, false
	}

	start := time.Now()
	info, err := h.ctx.Resolver.Resolve(ctx, query)
	h.ctx.Metrics.ResolveDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		h.ctx.Metrics.Resolutions.WithLabelValues("error").Inc()
		h.log.Error("resolution failed", "query", query, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return nil, false
	}
	return info, true
}

// noStream reports the valid-query-but-nothing-playable outcome. It is a
// normal result for the client, not a transport failure, so the HTTP status
// stays 200.
func (h *Handlers) noStream(w http.ResponseWriter, message string) {
	h.ctx.Metrics.Resolutions.WithLabelValues("no_stream").Inc()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": false,
		"error":   message,
	})
}

// proxyWrap turns a candidate's upstream URL into a same-origin reference.
// HLS candidates route through the rewriter so their segments get re-proxied.
func proxyWrap(f *types.Format) string {
	if f == nil {
		return ""
	}
	if f.IsHLS() {
		return urlutil.PlaylistRef(f.URL)
	}
	return urlutil.ProxyRef(f.URL)
}

// handleSearch resolves a query into proxied audio and video URLs.
func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	query, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	info, ok := h.resolve(r.Context(), w, query)
	if !ok {
		return
	}

	audio := resolver.SelectAudio(info)
	video := resolver.SelectVideo(info, resolver.SelectOptions{})

	streamURL := proxyWrap(audio)
	videoURL := proxyWrap(video)

	if streamURL == "" && videoURL == "" {
		h.noStream(w, "no playable stream")
		return
	}
	if streamURL == "" {
		streamURL = videoURL
	}

	h.ctx.State.SetResolved(state.Resolution{
		Title:     info.Title,
		Artist:    info.Channel,
		Thumbnail: info.Thumbnail(),
		Duration:  info.Duration,
		StreamURL: streamURL,
		VideoURL:  videoURL,
	})

	h.ctx.Metrics.Resolutions.WithLabelValues("ok").Inc()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"title":      info.Title,
		"duration":   info.Duration,
		"stream_url": streamURL,
		"video_url":  videoURL,
		"thumbnail":  info.Thumbnail(),
		"artist":     info.Channel,
	})
}

// handleGetVideoStream resolves a query into a single combined audio+video
// proxy URL, preferring direct transport and capping resolution.
func (h *Handlers) handleGetVideoStream(w http.ResponseWriter, r *http.Request) {
	query, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	info, ok := h.resolve(r.Context(), w, query)
	if !ok {
		return
	}

	video := resolver.SelectVideo(info, resolver.SelectOptions{
		MaxHeight:       h.ctx.Config.MaxHeight,
		RequireCombined: true,
		PreferDirect:    true,
	})

	videoURL := proxyWrap(video)
	if videoURL == "" && info.URL != "" {
		videoURL = urlutil.ProxyRef(info.URL)
	}
	if videoURL == "" {
		h.noStream(w, "no combined audio+video stream found")
		return
	}

	h.ctx.State.SetResolved(state.Resolution{
		Title:     info.Title,
		Artist:    info.Channel,
		Thumbnail: info.Thumbnail(),
		Duration:  info.Duration,
		StreamURL: videoURL,
		VideoURL:  videoURL,
	})

	h.ctx.Metrics.Resolutions.WithLabelValues("ok").Inc()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"title":     info.Title,
		"duration":  info.Duration,
		"video_url": videoURL,
		"is_live":   info.IsLive,
		"thumbnail": info.Thumbnail(),
		"artist":    info.Channel,
	})
}

// handlePlay resolves a query into direct (non-proxied) upstream URLs for
// clients that fetch the origin themselves.
func (h *Handlers) handlePlay(w http.ResponseWriter, r *http.Request) {
	query, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	info, ok := h.resolve(r.Context(), w, query)
	if !ok {
		return
	}

	audio := resolver.SelectAudio(info)
	video := resolver.SelectVideo(info, resolver.SelectOptions{
		MaxHeight:    h.ctx.Config.MaxHeight,
		PreferDirect: true,
	})

	if audio == nil && video == nil {
		h.noStream(w, "no playable stream")
		return
	}

	var audioURL, videoURL string
	if audio != nil {
		audioURL = audio.URL
	}
	if video != nil {
		videoURL = video.URL
	}

	streamURL := audioURL
	if streamURL == "" {
		streamURL = videoURL
	}
	h.ctx.State.SetResolved(state.Resolution{
		Title:     info.Title,
		Artist:    info.Channel,
		Thumbnail: info.Thumbnail(),
		Duration:  info.Duration,
		StreamURL: streamURL,
		VideoURL:  videoURL,
	})

	h.ctx.Metrics.Resolutions.WithLabelValues("ok").Inc()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"title":     info.Title,
		"artist":    info.Channel,
		"thumbnail": info.Thumbnail(),
		"duration":  info.Duration,
		"video_url": videoURL,
		"audio_url": audioURL,
	})
}

// handlePlayOnGo2rtc resolves a query and hands the direct URLs to the
// external restreamer through the sink.
func (h *Handlers) handlePlayOnGo2rtc(w http.ResponseWriter, r *http.Request) {
	query, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	info, ok := h.resolve(r.Context(), w, query)
	if !ok {
		return
	}

	audio := resolver.SelectAudio(info)
	video := resolver.SelectVideo(info, resolver.SelectOptions{
		MaxHeight:    h.ctx.Config.MaxHeight,
		PreferDirect: true,
	})

	if audio == nil && video == nil {
		h.noStream(w, "no playable stream")
		return
	}

	var audioURL, videoURL string
	if audio != nil {
		audioURL = audio.URL
	}
	if video != nil {
		videoURL = video.URL
	}

	if err := h.ctx.Sink.Publish(videoURL, audioURL); err != nil {
		h.ctx.Metrics.Resolutions.WithLabelValues("error").Inc()
		h.log.Error("go2rtc hand-off failed", "query", query, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	streamURL := audioURL
	if streamURL == "" {
		streamURL = videoURL
	}
	h.ctx.State.SetResolved(state.Resolution{
		Title:     info.Title,
		Artist:    info.Channel,
		Thumbnail: info.Thumbnail(),
		Duration:  info.Duration,
		StreamURL: streamURL,
		VideoURL:  videoURL,
	})

	h.ctx.Metrics.Resolutions.WithLabelValues("ok").Inc()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"metadata": map[string]any{
			"title":     info.Title,
			"artist":    info.Channel,
			"thumbnail": info.Thumbnail(),
			"duration":  info.Duration,
		},
		"streams": map[string]string{
			"video_url": videoURL,
			"audio_url": audioURL,
		},
		"go2rtc_stream_names": map[string]string{
			"video": go2rtc.VideoStreamName,
			"audio": go2rtc.AudioStreamName,
		},
		"note": "stream URLs written for the go2rtc file source",
	})
}

// handleState returns the current playback record.
func (h *Handlers) handleState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctx.State.Snapshot())
}

type controlRequest struct {
	Action   string  `json:"action"`
	Position float64 `json:"position"`
}

// handleControl mutates the playback record through the state machine.
func (h *Handlers) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	st, err := h.ctx.State.Apply(strings.ToLower(req.Action), req.Position)
	if err != nil {
		if errors.Is(err, state.ErrInvalidAction) {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid action"})
			return
		}
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"state":   st,
	})
}

// handleConfig exposes the API key to the trusted front-end.
func (h *Handlers) handleConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"api_key": h.ctx.Config.APIKey})
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "running",
		"version": "1.0.0",
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
