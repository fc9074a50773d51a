package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoDevice         = errors.New("no capture device")
)

// AcquisitionError reports that camera/microphone access could not be obtained
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire camera and microphone: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Device owns the live capture stream for one interview
type Device struct {
	source MediaSource

	mu     sync.Mutex
	stream *Stream
}

// NewDevice creates a device handle backed by a media source
func NewDevice(source MediaSource) *Device {
	return &Device{source: source}
}

// Acquire requests combined audio+video access with the fixed constraints
func (d *Device) Acquire(ctx context.Context) (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil && d.stream.Active() {
		return d.stream, nil
	}

	stream, err := d.source.RequestMedia(ctx, DefaultConstraints)
	if err != nil {
		slog.Error("Capture device acquisition failed", "error", err)
		return nil, &AcquisitionError{Err: err}
	}
	if stream == nil {
		return nil, &AcquisitionError{Err: ErrNoDevice}
	}

	d.stream = stream
	slog.Info("Capture device ready", "stream", stream.ID,
		"audio_tracks", len(stream.AudioTracks()), "video_tracks", len(stream.VideoTracks()))
	return stream, nil
}

// Ready reports whether a live stream is held
func (d *Device) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil && d.stream.Active()
}

// Release stops every track. It is safe to call more than once and on a
// handle that never acquired anything.
func (d *Device) Release() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return
	}
	d.stream.stop()
	slog.Debug("Capture device released", "stream", d.stream.ID)
	d.stream = nil
}
