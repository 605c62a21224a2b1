package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"tunegate/pkg/config"
	"tunegate/pkg/interfaces"
	"tunegate/pkg/logging"
	"tunegate/pkg/types"
)

// YTDLP resolves queries by shelling out to the yt-dlp binary.
type YTDLP struct {
	path string
	log  *logging.Logger
}

// NewYTDLP creates a yt-dlp backed resolver.
func NewYTDLP(cfg *config.Config, log *logging.Logger) *YTDLP {
	return &YTDLP{
		path: cfg.YTDLPPath,
		log:  log.WithComponent("ytdlp"),
	}
}

// ytdlpInfo mirrors the subset of yt-dlp's JSON dump the gateway consumes.
type ytdlpInfo struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Channel    string        `json:"channel"`
	Duration   float64       `json:"duration"`
	IsLive     bool          `json:"is_live"`
	LiveStatus string        `json:"live_status"`
	URL        string        `json:"url"`
	Formats    []ytdlpFormat `json:"formats"`
	Entries    []ytdlpInfo   `json:"entries"`
}

type ytdlpFormat struct {
	URL      string  `json:"url"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Height   float64 `json:"height"`
	Protocol string  `json:"protocol"`
}

// Resolve runs yt-dlp against the query and adapts its JSON dump into a
// MediaInfo. A bare query is searched; a URL is resolved directly.
func (y *YTDLP) Resolve(ctx context.Context, query string) (*types.MediaInfo, error) {
	args := []string{
		"--dump-single-json",
		"--default-search", "ytsearch1",
		"--no-playlist",
		"--skip-download",
		"--no-warnings",
		query,
	}

	cmd := exec.CommandContext(ctx, y.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	y.log.Debug("resolving query", "query", query)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("yt-dlp failed: %s", msg)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}

	// Search results come wrapped in a one-entry playlist.
	if len(info.Entries) > 0 {
		info = info.Entries[0]
	}

	result := &types.MediaInfo{
		ID:       info.ID,
		Title:    info.Title,
		Channel:  info.Channel,
		Duration: info.Duration,
		IsLive:   info.IsLive || info.LiveStatus == "is_live",
		URL:      info.URL,
		Formats:  make([]types.Format, 0, len(info.Formats)),
	}

	for _, f := range info.Formats {
		if f.URL == "" {
			continue
		}
		result.Formats = append(result.Formats, types.Format{
			URL:        f.URL,
			VideoCodec: f.VCodec,
			AudioCodec: f.ACodec,
			Height:     int(f.Height),
			Protocol:   f.Protocol,
		})
	}

	y.log.Debug("resolved",
		"id", result.ID,
		"title", result.Title,
		"formats", len(result.Formats),
		"is_live", result.IsLive,
	)

	return result, nil
}

var _ interfaces.Resolver = (*YTDLP)(nil)
