package recorder

import (
	"strings"
	"time"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

// BackendType represents the type of recording backend
type BackendType string

const (
	BackendTypeFFmpeg BackendType = "ffmpeg"
	BackendTypeAuto   BackendType = "auto"
)

// NewEngine creates a recording engine using the backend selected in the configuration
func NewEngine(cfg *config.Config) Engine {
	switch determineBackend(cfg) {
	case BackendTypeFFmpeg:
		return newFFmpegEngine(cfg)
	default:
		// ffmpeg is the only available backend
		return newFFmpegEngine(cfg)
	}
}

func newFFmpegEngine(cfg *config.Config) *FFmpegEngine {
	return &FFmpegEngine{
		Path:        cfg.Recorder.FFmpegPath,
		AudioInput:  cfg.Capture.AudioInput,
		ChunkSize:   cfg.Recorder.ChunkSize,
		StopTimeout: time.Duration(cfg.Recorder.StopTimeout) * time.Second,
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Recorder.Backend) {
	case "ffmpeg", "auto":
		return BackendTypeFFmpeg
	}
	return BackendTypeFFmpeg
}

// AvailableBackends returns the backends compiled into this binary
func AvailableBackends() []BackendType {
	return []BackendType{BackendTypeFFmpeg}
}
