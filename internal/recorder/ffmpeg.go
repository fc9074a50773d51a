package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/interviewcapture/internal/capture"
)

// DefaultMimeType is used when a recorder reports no mime type
const DefaultMimeType = "video/webm"

// ffmpegFormats maps supported mime types to ffmpeg encoder/muxer arguments
var ffmpegFormats = map[string][]string{
	"video/webm;codecs=vp9,opus": {"-c:v", "libvpx-vp9", "-deadline", "realtime", "-cpu-used", "8", "-row-mt", "1", "-c:a", "libopus", "-f", "webm"},
	"video/webm;codecs=vp8,opus": {"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8", "-c:a", "libopus", "-f", "webm"},
	"video/webm":                 {"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8", "-c:a", "libopus", "-f", "webm"},
	"video/mp4":                  {"-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
}

func normalizeMimeType(mimeType string) string {
	return strings.ToLower(strings.ReplaceAll(mimeType, " ", ""))
}

// FFmpegEngine records a capture stream by running ffmpeg with the stream's
// devices as inputs and reading the muxed output from stdout
type FFmpegEngine struct {
	Path        string
	AudioInput  string // "pulse" or "alsa"
	ChunkSize   int
	StopTimeout time.Duration
}

func (e *FFmpegEngine) IsTypeSupported(mimeType string) bool {
	_, ok := ffmpegFormats[normalizeMimeType(mimeType)]
	return ok
}

func (e *FFmpegEngine) New(stream *capture.Stream, mimeType string) (MediaRecorder, error) {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	mimeType = normalizeMimeType(mimeType)
	if !e.IsTypeSupported(mimeType) {
		return nil, fmt.Errorf("unsupported mime type: %s", mimeType)
	}

	path, err := exec.LookPath(e.path())
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	args, err := e.Args(stream, mimeType)
	if err != nil {
		return nil, err
	}

	return &ffmpegRecorder{
		path:        path,
		args:        args,
		mimeType:    mimeType,
		chunkSize:   e.chunkSize(),
		stopTimeout: e.stopTimeout(),
	}, nil
}

// Args builds the ffmpeg command line for recording the stream
func (e *FFmpegEngine) Args(stream *capture.Stream, mimeType string) ([]string, error) {
	codec, ok := ffmpegFormats[normalizeMimeType(mimeType)]
	if !ok {
		return nil, fmt.Errorf("unsupported mime type: %s", mimeType)
	}

	logLevel := "error"
	if env := os.Getenv("FFMPEG_LOGLEVEL"); env != "" {
		logLevel = env
	}
	args := []string{"-hide_banner", "-loglevel", logLevel, "-nostdin"}

	videoTracks := stream.VideoTracks()
	for _, track := range videoTracks {
		args = append(args,
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", stream.Constraints.Width, stream.Constraints.Height),
			"-i", track.Device,
		)
	}

	audioTracks := stream.AudioTracks()
	for _, track := range audioTracks {
		input := e.AudioInput
		if input == "" {
			input = "pulse"
		}
		args = append(args, "-f", input, "-i", track.Device)
	}

	if len(videoTracks)+len(audioTracks) == 0 {
		return nil, fmt.Errorf("stream %s has no live tracks", stream.ID)
	}

	args = append(args, codec...)
	args = append(args, "pipe:1")
	return args, nil
}

func (e *FFmpegEngine) path() string {
	if e.Path == "" {
		return "ffmpeg"
	}
	return e.Path
}

func (e *FFmpegEngine) chunkSize() int {
	if e.ChunkSize <= 0 {
		return 64 * 1024
	}
	return e.ChunkSize
}

func (e *FFmpegEngine) stopTimeout() time.Duration {
	if e.StopTimeout <= 0 {
		return 5 * time.Second
	}
	return e.StopTimeout
}

type ffmpegRecorder struct {
	path        string
	args        []string
	mimeType    string
	chunkSize   int
	stopTimeout time.Duration

	mu       sync.Mutex
	cmd      *exec.Cmd
	stopping bool
	exited   chan struct{}
	logged   chan struct{}
	stderr   strings.Builder
}

func (r *ffmpegRecorder) MimeType() string {
	return r.mimeType
}

func (r *ffmpegRecorder) Start(onData func([]byte), onStop func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return fmt.Errorf("recorder already started")
	}

	slog.Info("Starting FFmpeg", "command", r.path+" "+strings.Join(r.args, " "))

	cmd := exec.Command(r.path, r.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	r.cmd = cmd
	r.exited = make(chan struct{})
	r.logged = make(chan struct{})

	go r.readOutput(stderr)
	go r.readData(stdout, onData, onStop)
	return nil
}

// readData forwards stdout in chunk-sized fragments and reports the stop
// once ffmpeg has exited
func (r *ffmpegRecorder) readData(stdout io.ReadCloser, onData func([]byte), onStop func()) {
	buf := make([]byte, r.chunkSize)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			onData(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Debug("FFmpeg output read ended", "error", err)
			}
			break
		}
	}

	<-r.logged
	err := r.cmd.Wait()
	close(r.exited)

	if err := r.exitError(err); err != nil {
		slog.Error("FFmpeg exited with error", "error", err, "stderr", r.stderrOutput())
	} else {
		slog.Debug("FFmpeg exited")
	}
	onStop()
}

// readOutput logs ffmpeg diagnostics
func (r *ffmpegRecorder) readOutput(pipe io.ReadCloser) {
	defer close(r.logged)
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		r.mu.Lock()
		r.stderr.WriteString(line + "\n")
		r.mu.Unlock()
		slog.Debug("FFmpeg output", "stream", "stderr", "line", line)
	}
}

func (r *ffmpegRecorder) stderrOutput() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stderr.String()
}

// Stop asks ffmpeg to finish the container and exit. The stop event is
// delivered asynchronously once the process is gone.
func (r *ffmpegRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil || r.cmd.Process == nil || r.stopping {
		return nil
	}
	r.stopping = true

	slog.Debug("Sending SIGINT to FFmpeg process")
	if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
		if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill FFmpeg: %w", err)
		}
		return nil
	}

	process := r.cmd.Process
	exited := r.exited
	timeout := r.stopTimeout
	go func() {
		select {
		case <-exited:
		case <-time.After(timeout):
			slog.Warn("FFmpeg did not exit within timeout, force killing", "timeout", timeout)
			process.Kill()
		}
	}()
	return nil
}

// exitError filters out the exit statuses ffmpeg reports after being interrupted
func (r *ffmpegRecorder) exitError(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.mu.Lock()
		stopping := r.stopping
		r.mu.Unlock()

		// Exit code 255 means ffmpeg was interrupted gracefully
		if exitErr.ExitCode() == 255 && stopping {
			return nil
		}
		if exitErr.ProcessState != nil && stopping {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
	}
	return fmt.Errorf("FFmpeg process failed: %w", err)
}
