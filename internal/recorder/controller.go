package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/interviewcapture/internal/capture"
)

// Controller starts one recorder per question on a capture stream. It does
// not serialize Start calls; the caller must not start a new recording while
// a previous one on the same stream is still active.
type Controller struct {
	engine Engine
}

// NewController creates a controller backed by an engine
func NewController(engine Engine) *Controller {
	return &Controller{engine: engine}
}

// SelectFormat returns the first preferred format the engine supports, or
// "" when the engine default has to be used
func SelectFormat(engine Engine, preferred []string) string {
	for _, format := range preferred {
		if format != "" && engine.IsTypeSupported(format) {
			return format
		}
	}
	return ""
}

// Start begins recording the stream using the first supported preferred format
func (c *Controller) Start(stream *capture.Stream, preferred []string) (*Handle, error) {
	if stream == nil {
		return nil, &NoAudioTrackError{}
	}
	if len(stream.AudioTracks()) == 0 {
		return nil, &NoAudioTrackError{StreamID: stream.ID}
	}

	mr, err := c.construct(stream, preferred)
	if err != nil {
		return nil, err
	}

	h := newHandle(mr)
	if err := mr.Start(h.onData, h.onStop); err != nil {
		return nil, &RecorderInitError{MimeType: mr.MimeType(), Err: err}
	}

	slog.Info("Recording started", "stream", stream.ID, "mime_type", h.MimeType())
	return h, nil
}

func (c *Controller) construct(stream *capture.Stream, preferred []string) (MediaRecorder, error) {
	format := SelectFormat(c.engine, preferred)
	if format != "" {
		mr, err := c.engine.New(stream, format)
		if err == nil {
			return mr, nil
		}
		slog.Warn("Recorder rejected preferred format, falling back to default", "mime_type", format, "error", err)
	} else if len(preferred) > 0 {
		slog.Debug("No preferred format supported, using engine default", "preferred", preferred)
	}

	mr, err := c.engine.New(stream, "")
	if err != nil {
		return nil, &RecorderInitError{MimeType: format, Err: err}
	}
	if mr == nil {
		return nil, &RecorderInitError{MimeType: format, Err: errors.New("engine returned no recorder")}
	}
	return mr, nil
}

// Handle is one active recording. Completion is signalled exactly once
// through Done, after which Result returns the finalized chunks.
type Handle struct {
	mr       MediaRecorder
	mimeType string

	mu            sync.Mutex
	status        Status
	chunks        [][]byte
	stopRequested bool

	once   sync.Once
	done   chan struct{}
	result Result
}

func newHandle(mr MediaRecorder) *Handle {
	mimeType := mr.MimeType()
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return &Handle{
		mr:       mr,
		mimeType: mimeType,
		status:   StatusRecording,
		done:     make(chan struct{}),
	}
}

// MimeType returns the mime type actually used by the recorder
func (h *Handle) MimeType() string {
	return h.mimeType
}

// Status returns the handle state
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Active reports whether the recorder still accepts data
func (h *Handle) Active() bool {
	return h.Status() == StatusRecording
}

// Stop requests the recorder to stop. Only the first request on an active
// handle reaches the recorder; later calls and calls on a stopped handle
// are no-ops.
func (h *Handle) Stop() error {
	h.mu.Lock()
	if h.status != StatusRecording || h.stopRequested {
		h.mu.Unlock()
		return nil
	}
	h.stopRequested = true
	h.status = StatusStopping
	h.mu.Unlock()

	slog.Debug("Stopping recorder", "mime_type", h.mimeType)
	if err := h.mr.Stop(); err != nil {
		// No stop event will follow; finalize with what was captured
		slog.Error("Recorder failed to stop cleanly", "error", err)
		h.onStop()
		return fmt.Errorf("failed to stop recorder: %w", err)
	}
	return nil
}

// Done is closed once the recording is finalized
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the finalized recording. Before Done is closed it returns
// an empty result.
func (h *Handle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *Handle) onData(data []byte) {
	if len(data) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusStopped {
		slog.Debug("Dropping data after recorder stop", "bytes", len(data))
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	h.chunks = append(h.chunks, chunk)
}

func (h *Handle) onStop() {
	h.once.Do(func() {
		h.mu.Lock()
		h.status = StatusStopped
		h.result = Result{Chunks: h.chunks, MimeType: h.mimeType}
		h.chunks = nil
		h.mu.Unlock()

		slog.Debug("Recording finalized", "chunks", len(h.result.Chunks), "bytes", h.result.Size())
		close(h.done)
	})
}
