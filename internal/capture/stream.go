package capture

import (
	"context"
	"sync"
)

// TrackKind identifies the media carried by a track
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Constraints describes what is requested from the capture hardware
type Constraints struct {
	Width  int
	Height int
	Audio  bool
}

// DefaultConstraints are the fixed constraints used for every interview
var DefaultConstraints = Constraints{Width: 1280, Height: 720, Audio: true}

// Track is one live media track of a stream
type Track struct {
	Kind   TrackKind
	Label  string
	Device string // device node or source name the track reads from

	mu      sync.Mutex
	stopped bool
}

// NewTrack creates a live track
func NewTrack(kind TrackKind, label, device string) *Track {
	return &Track{Kind: kind, Label: label, Device: device}
}

// Stop ends the track; stopping twice is harmless
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Live reports whether the track is still delivering media
func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

// Stream is a combined audio/video capture stream
type Stream struct {
	ID          string
	Constraints Constraints
	tracks      []*Track
}

// NewStream bundles tracks into a stream
func NewStream(id string, constraints Constraints, tracks ...*Track) *Stream {
	return &Stream{ID: id, Constraints: constraints, tracks: tracks}
}

// Tracks returns every track of the stream
func (s *Stream) Tracks() []*Track {
	return s.tracks
}

// AudioTracks returns the live audio tracks
func (s *Stream) AudioTracks() []*Track {
	return s.liveTracks(KindAudio)
}

// VideoTracks returns the live video tracks
func (s *Stream) VideoTracks() []*Track {
	return s.liveTracks(KindVideo)
}

// Active reports whether at least one track is live
func (s *Stream) Active() bool {
	for _, t := range s.tracks {
		if t.Live() {
			return true
		}
	}
	return false
}

func (s *Stream) liveTracks(kind TrackKind) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind == kind && t.Live() {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// MediaSource requests access to capture hardware
type MediaSource interface {
	RequestMedia(ctx context.Context, constraints Constraints) (*Stream, error)
}
