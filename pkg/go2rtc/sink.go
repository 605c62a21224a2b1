// Package go2rtc hands resolved stream URLs to an external go2rtc restreamer
// through plain-text file drops at well-known paths.
package go2rtc

import (
	"fmt"
	"os"
	"path/filepath"

	"tunegate/pkg/config"
	"tunegate/pkg/interfaces"
	"tunegate/pkg/logging"
)

// Stream names the go2rtc configuration refers to.
const (
	VideoStreamName = "youtube_video"
	AudioStreamName = "youtube_audio"
)

// FileSink writes each URL to its own file. Writes go through a temp file
// and a rename, so a concurrent reader sees either the old or the new
// complete URL, never a partial write.
type FileSink struct {
	videoFile string
	audioFile string
	log       *logging.Logger
}

// NewFileSink creates a sink from configuration.
func NewFileSink(cfg *config.Config, log *logging.Logger) *FileSink {
	return &FileSink{
		videoFile: cfg.Go2rtcVideoFile,
		audioFile: cfg.Go2rtcAudioFile,
		log:       log.WithComponent("go2rtc"),
	}
}

// Publish drops both URLs. An empty URL clears nothing and skips its file.
func (s *FileSink) Publish(videoURL, audioURL string) error {
	if videoURL != "" {
		if err := writeAtomic(s.videoFile, videoURL); err != nil {
			return fmt.Errorf("publish video url: %w", err)
		}
	}
	if audioURL != "" {
		if err := writeAtomic(s.audioFile, audioURL); err != nil {
			return fmt.Errorf("publish audio url: %w", err)
		}
	}
	s.log.Info("published stream urls", "video_file", s.videoFile, "audio_file", s.audioFile)
	return nil
}

// writeAtomic writes content to path via a sibling temp file and rename.
func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".url-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

var _ interfaces.StreamSink = (*FileSink)(nil)
