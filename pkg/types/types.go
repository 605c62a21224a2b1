// Package types defines core domain types used throughout the application.
package types

// Phase is the playback lifecycle phase.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePlaying Phase = "playing"
	PhasePaused  Phase = "paused"
)

// PlaybackState is the shared "now playing" record. A single instance lives
// for the process lifetime and is accessed through pkg/state.
type PlaybackState struct {
	State     Phase   `json:"state"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
	StreamURL string  `json:"stream_url"`
	VideoURL  string  `json:"video_url"`
	Position  float64 `json:"position"`
}

// Format is a single candidate stream returned by the resolution façade.
// Codec fields hold "none" or are empty when the track is absent.
type Format struct {
	URL        string `json:"url"`
	VideoCodec string `json:"vcodec"`
	AudioCodec string `json:"acodec"`
	Height     int    `json:"height"`
	Protocol   string `json:"protocol"`
}

// HasVideo reports whether the candidate carries a video track.
func (f Format) HasVideo() bool { return f.VideoCodec != "" && f.VideoCodec != "none" }

// HasAudio reports whether the candidate carries an audio track.
func (f Format) HasAudio() bool { return f.AudioCodec != "" && f.AudioCodec != "none" }

// IsHLS reports whether the candidate is delivered as an HLS playlist.
func (f Format) IsHLS() bool {
	return len(f.Protocol) >= 4 && f.Protocol[:4] == "m3u8"
}

// MediaInfo is the resolution façade's answer for a query. URL, when set, is
// the façade's own pick of a playable URL and serves as a last-resort
// fallback when no format candidate qualifies.
type MediaInfo struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Channel  string   `json:"channel"`
	Duration float64  `json:"duration"`
	IsLive   bool     `json:"is_live"`
	URL      string   `json:"url"`
	Formats  []Format `json:"formats"`
}

// Thumbnail builds the poster URL from the media identifier.
func (m *MediaInfo) Thumbnail() string {
	if m.ID == "" {
		return ""
	}
	return "https://i.ytimg.com/vi/" + m.ID + "/hqdefault.jpg"
}
