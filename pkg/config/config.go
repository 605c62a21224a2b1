// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port        int
	BaseURL     string
	ReadTimeout time.Duration
	// WriteTimeout of zero keeps long-lived relay responses alive; a finite
	// value would cut off streams longer than the timeout.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIKey string

	// Upstream fetch settings
	MediaTimeout    time.Duration
	PlaylistTimeout time.Duration
	ChunkSize       int
	MaxRetries      int
	GlobalProxy     string

	// Resolution settings
	YTDLPPath    string
	MaxHeight    int
	ResolveRate  float64
	ResolveBurst int

	// go2rtc hand-off
	Go2rtcVideoFile string
	Go2rtcAudioFile string

	// Logging
	LogLevel string
	LogJSON  bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	port := getEnvInt("PORT", 5000)
	return &Config{
		Port:            port,
		BaseURL:         getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 0),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		APIKey:          os.Getenv("API_KEY"),
		MediaTimeout:    getEnvDuration("MEDIA_TIMEOUT", 60*time.Second),
		PlaylistTimeout: getEnvDuration("PLAYLIST_TIMEOUT", 15*time.Second),
		ChunkSize:       getEnvInt("CHUNK_SIZE", 16*1024),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		GlobalProxy:     os.Getenv("GLOBAL_PROXY"),
		YTDLPPath:       getEnvString("YTDLP_PATH", "yt-dlp"),
		MaxHeight:       getEnvInt("MAX_HEIGHT", 1080),
		ResolveRate:     getEnvFloat("RESOLVE_RATE", 1),
		ResolveBurst:    getEnvInt("RESOLVE_BURST", 3),
		Go2rtcVideoFile: getEnvString("GO2RTC_VIDEO_FILE", "/tmp/go2rtc/video_url.txt"),
		Go2rtcAudioFile: getEnvString("GO2RTC_AUDIO_FILE", "/tmp/go2rtc/audio_url.txt"),
		LogLevel:        getEnvString("LOG_LEVEL", "info"),
		LogJSON:         getEnvBool("LOG_JSON", false),
	}
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		// Try parsing as duration string
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
