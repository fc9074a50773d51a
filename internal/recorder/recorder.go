package recorder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/audiolibrelab/interviewcapture/internal/capture"
)

// Status represents the current state of a recording handle
type Status string

const (
	StatusRecording Status = "RECORDING"
	StatusStopping  Status = "STOPPING"
	StatusStopped   Status = "STOPPED"
)

// ErrNoAudioTrack is matched by every NoAudioTrackError
var ErrNoAudioTrack = errors.New("stream has no audio track")

// NoAudioTrackError is returned when recording is requested on a stream
// without a live audio track
type NoAudioTrackError struct {
	StreamID string
}

func (e *NoAudioTrackError) Error() string {
	if e.StreamID == "" {
		return ErrNoAudioTrack.Error()
	}
	return fmt.Sprintf("%s: %s", ErrNoAudioTrack, e.StreamID)
}

func (e *NoAudioTrackError) Unwrap() error {
	return ErrNoAudioTrack
}

// RecorderInitError is returned when no recorder could be constructed,
// not even with the engine's default format
type RecorderInitError struct {
	MimeType string
	Err      error
}

func (e *RecorderInitError) Error() string {
	if e.MimeType == "" {
		return fmt.Sprintf("failed to initialize recorder: %v", e.Err)
	}
	return fmt.Sprintf("failed to initialize recorder for %s: %v", e.MimeType, e.Err)
}

func (e *RecorderInitError) Unwrap() error {
	return e.Err
}

// Engine constructs media recorders for a capture stream
type Engine interface {
	// IsTypeSupported reports whether a recorder can be built for the mime type
	IsTypeSupported(mimeType string) bool
	// New builds a recorder. An empty mime type selects the engine default.
	New(stream *capture.Stream, mimeType string) (MediaRecorder, error)
}

// MediaRecorder is a single recording of a stream. It emits data events
// through onData and exactly one stop event through onStop, either after
// Stop or when it ends on its own.
type MediaRecorder interface {
	MimeType() string
	Start(onData func([]byte), onStop func()) error
	Stop() error
}

// Result is the finalized output of one recording
type Result struct {
	Chunks   [][]byte
	MimeType string
}

// Payload joins the chunks into one blob. It is never nil, so an empty
// recording still produces an (empty) upload body.
func (r Result) Payload() []byte {
	payload := bytes.Join(r.Chunks, nil)
	if payload == nil {
		payload = []byte{}
	}
	return payload
}

// Size returns the total number of recorded bytes
func (r Result) Size() int {
	size := 0
	for _, c := range r.Chunks {
		size += len(c)
	}
	return size
}
