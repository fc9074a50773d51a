package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// SystemSource captures from a V4L2 video node and a PulseAudio/PipeWire or
// ALSA audio source
type SystemSource struct {
	VideoDevice  string
	AudioSource  string
	AudioInput   string // "pulse" or "alsa"
	AudioEnabled bool
}

// RequestMedia checks that the configured devices exist and are accessible
// and returns a stream describing them
func (s *SystemSource) RequestMedia(ctx context.Context, constraints Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := checkVideoDevice(s.VideoDevice); err != nil {
		return nil, err
	}

	tracks := []*Track{NewTrack(KindVideo, fmt.Sprintf("camera %dx%d", constraints.Width, constraints.Height), s.VideoDevice)}

	if constraints.Audio && s.AudioEnabled {
		if err := s.checkAudioSource(ctx); err != nil {
			return nil, err
		}
		tracks = append(tracks, NewTrack(KindAudio, "microphone", s.AudioSource))
	}

	return NewStream(uuid.NewString(), constraints, tracks...), nil
}

func checkVideoDevice(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no video device configured", ErrNoDevice)
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s not found", ErrNoDevice, path)
		}
		return fmt.Errorf("failed to inspect video device %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: cannot open %s", ErrPermissionDenied, path)
		}
		return fmt.Errorf("failed to open video device %s: %w", path, err)
	}
	return f.Close()
}

func (s *SystemSource) checkAudioSource(ctx context.Context) error {
	if s.AudioSource == "" {
		return fmt.Errorf("%w: no audio source configured", ErrNoDevice)
	}

	// ALSA device names are resolved by ffmpeg at recording time
	if s.AudioInput == "alsa" || isDefaultPulseSource(s.AudioSource) {
		return nil
	}

	sources, err := listPulseSources(ctx)
	if err != nil {
		// pactl may be missing on PipeWire-only systems; let the recorder surface it
		slog.Debug("Could not list audio sources, skipping check", "error", err)
		return nil
	}
	for _, src := range sources {
		if src == s.AudioSource {
			return nil
		}
	}
	return fmt.Errorf("%w: audio source %s not found", ErrNoDevice, s.AudioSource)
}

func isDefaultPulseSource(name string) bool {
	return name == "default" || name == "@DEFAULT_SOURCE@"
}

// ListDevices returns the video device nodes and audio sources present on the system
func ListDevices(ctx context.Context) (video []string, audio []string, err error) {
	video, err = filepath.Glob("/dev/video*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list video devices: %w", err)
	}
	sort.Strings(video)

	audio, err = listPulseSources(ctx)
	if err == nil {
		return video, audio, nil
	}
	slog.Debug("PulseAudio sources unavailable, trying PipeWire", "error", err)

	audio, pwErr := listPipeWirePorts(ctx)
	if pwErr != nil {
		return video, nil, fmt.Errorf("%w (%v)", err, pwErr)
	}
	return video, audio, nil
}

func listPulseSources(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "pactl", "list", "short", "sources")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio sources: %w", err)
	}
	return parsePulseSources(string(output)), nil
}

// parsePulseSources extracts source names from `pactl list short sources`,
// skipping monitor sources of output sinks
func parsePulseSources(output string) []string {
	var sources []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		if strings.HasSuffix(name, ".monitor") {
			continue
		}
		sources = append(sources, name)
	}
	return sources
}
