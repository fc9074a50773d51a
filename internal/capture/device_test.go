package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	stream *Stream
	err    error
	calls  int
	got    Constraints
}

func (s *staticSource) RequestMedia(ctx context.Context, c Constraints) (*Stream, error) {
	s.calls++
	s.got = c
	return s.stream, s.err
}

func testStream() *Stream {
	return NewStream("s1", DefaultConstraints,
		NewTrack(KindVideo, "camera", "/dev/video0"),
		NewTrack(KindAudio, "microphone", "default"),
	)
}

func TestDeviceAcquireUsesFixedConstraints(t *testing.T) {
	src := &staticSource{stream: testStream()}
	d := NewDevice(src)

	stream, err := d.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, src.stream, stream)
	assert.Equal(t, Constraints{Width: 1280, Height: 720, Audio: true}, src.got)
	assert.True(t, d.Ready())
}

func TestDeviceAcquireFailureIsAcquisitionError(t *testing.T) {
	src := &staticSource{err: ErrPermissionDenied}
	d := NewDevice(src)

	_, err := d.Acquire(context.Background())
	require.Error(t, err)

	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, d.Ready())
}

func TestDeviceAcquireNilStream(t *testing.T) {
	d := NewDevice(&staticSource{})

	_, err := d.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestDeviceAcquireReusesLiveStream(t *testing.T) {
	src := &staticSource{stream: testStream()}
	d := NewDevice(src)

	_, err := d.Acquire(context.Background())
	require.NoError(t, err)
	_, err = d.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestDeviceReleaseIsIdempotent(t *testing.T) {
	stream := testStream()
	d := NewDevice(&staticSource{stream: stream})

	_, err := d.Acquire(context.Background())
	require.NoError(t, err)

	d.Release()
	d.Release()

	assert.False(t, d.Ready())
	assert.False(t, stream.Active())
	for _, track := range stream.Tracks() {
		assert.False(t, track.Live(), "track %s still live", track.Label)
	}
}

func TestDeviceReleaseWithoutAcquire(t *testing.T) {
	d := NewDevice(&staticSource{})
	assert.NotPanics(t, func() { d.Release() })

	var nilDevice *Device
	assert.NotPanics(t, func() { nilDevice.Release() })
}

func TestStreamTrackFiltering(t *testing.T) {
	stream := testStream()
	assert.Len(t, stream.AudioTracks(), 1)
	assert.Len(t, stream.VideoTracks(), 1)

	stream.AudioTracks()[0].Stop()
	assert.Empty(t, stream.AudioTracks())
	assert.True(t, stream.Active())
}

func TestParsePulseSources(t *testing.T) {
	output := "0\talsa_output.pci.analog-stereo.monitor\tPipeWire\ts32le 2ch 48000Hz\tSUSPENDED\n" +
		"1\talsa_input.usb-Blue_Yeti-00.analog-stereo\tPipeWire\ts16le 2ch 48000Hz\tRUNNING\n" +
		"\n"

	sources := parsePulseSources(output)
	assert.Equal(t, []string{"alsa_input.usb-Blue_Yeti-00.analog-stereo"}, sources)
}

func TestSystemSourceMissingVideoDevice(t *testing.T) {
	src := &SystemSource{VideoDevice: filepath.Join(t.TempDir(), "video9")}

	_, err := src.RequestMedia(context.Background(), DefaultConstraints)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestSystemSourceVideoOnlyWhenAudioDisabled(t *testing.T) {
	node := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(node, nil, 0644))

	src := &SystemSource{VideoDevice: node, AudioSource: "default", AudioEnabled: false}
	stream, err := src.RequestMedia(context.Background(), DefaultConstraints)
	require.NoError(t, err)
	assert.Len(t, stream.VideoTracks(), 1)
	assert.Empty(t, stream.AudioTracks())
}

func TestSystemSourceDefaultPulseSource(t *testing.T) {
	node := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(node, nil, 0644))

	src := &SystemSource{VideoDevice: node, AudioSource: "default", AudioInput: "pulse", AudioEnabled: true}
	stream, err := src.RequestMedia(context.Background(), DefaultConstraints)
	require.NoError(t, err)
	require.Len(t, stream.AudioTracks(), 1)
	assert.Equal(t, "default", stream.AudioTracks()[0].Device)
	assert.NotEmpty(t, stream.ID)
}
