// Package recordertest provides a scriptable recorder engine for tests.
package recordertest

import (
	"fmt"
	"sync"

	"github.com/audiolibrelab/interviewcapture/internal/capture"
	"github.com/audiolibrelab/interviewcapture/internal/recorder"
)

// Engine is a fake recorder.Engine. By default every mime type is supported
// and recorders deliver their stop event asynchronously after Stop.
type Engine struct {
	mu        sync.Mutex
	supported map[string]bool
	failNew   map[string]error
	failStart error
	holdStops bool
	recorders []*Recorder
	created   chan *Recorder
}

// NewEngine creates a fake engine. When supported mime types are given,
// only those are reported as supported.
func NewEngine(supported ...string) *Engine {
	e := &Engine{
		failNew: make(map[string]error),
		created: make(chan *Recorder, 64),
	}
	if len(supported) > 0 {
		e.supported = make(map[string]bool)
		for _, m := range supported {
			e.supported[m] = true
		}
	}
	return e
}

// FailNew makes New fail for the mime type ("" is the default format)
func (e *Engine) FailNew(mimeType string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failNew, mimeType)
		return
	}
	e.failNew[mimeType] = err
}

// FailStart makes MediaRecorder.Start fail; nil clears it
func (e *Engine) FailStart(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failStart = err
}

// HoldStops makes new recorders wait for Finish instead of stopping on
// their own after Stop
func (e *Engine) HoldStops(hold bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.holdStops = hold
}

func (e *Engine) IsTypeSupported(mimeType string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.supported == nil || e.supported[mimeType]
}

func (e *Engine) New(stream *capture.Stream, mimeType string) (recorder.MediaRecorder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err, ok := e.failNew[mimeType]; ok {
		return nil, err
	}

	mime := mimeType
	if mime == "" {
		mime = "video/webm"
	}
	r := &Recorder{
		mimeType:  mime,
		requested: mimeType,
		stream:    stream,
		failStart: e.failStart,
		holdStop:  e.holdStops,
	}
	e.recorders = append(e.recorders, r)
	select {
	case e.created <- r:
	default:
	}
	return r, nil
}

// Recorders returns every recorder built so far
func (e *Engine) Recorders() []*Recorder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Recorder(nil), e.recorders...)
}

// Last returns the most recently built recorder, or nil
func (e *Engine) Last() *Recorder {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.recorders) == 0 {
		return nil
	}
	return e.recorders[len(e.recorders)-1]
}

// Created delivers recorders as they are built
func (e *Engine) Created() <-chan *Recorder {
	return e.created
}

// Recorder is a fake recorder.MediaRecorder driven by the test
type Recorder struct {
	mimeType  string
	requested string
	stream    *capture.Stream
	failStart error

	mu        sync.Mutex
	onData    func([]byte)
	onStop    func()
	holdStop  bool
	started   bool
	stopCalls int
	finished  bool
}

func (r *Recorder) MimeType() string { return r.mimeType }

// Requested returns the mime hint the recorder was built with
func (r *Recorder) Requested() string { return r.requested }

func (r *Recorder) Start(onData func([]byte), onStop func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStart != nil {
		return r.failStart
	}
	if r.started {
		return fmt.Errorf("recorder already started")
	}
	r.started = true
	r.onData = onData
	r.onStop = onStop
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	r.stopCalls++
	hold := r.holdStop
	r.mu.Unlock()

	if !hold {
		go r.Finish()
	}
	return nil
}

// Emit delivers a data event
func (r *Recorder) Emit(data []byte) {
	r.mu.Lock()
	onData := r.onData
	finished := r.finished
	r.mu.Unlock()
	if onData != nil && !finished {
		onData(data)
	}
}

// Finish delivers the stop event; only the first call has an effect.
// Calling it without Stop simulates the recorder ending on its own.
func (r *Recorder) Finish() {
	r.mu.Lock()
	if r.finished || r.onStop == nil {
		r.mu.Unlock()
		return
	}
	r.finished = true
	onStop := r.onStop
	r.mu.Unlock()
	onStop()
}

// StopCalls returns how many times Stop reached the recorder
func (r *Recorder) StopCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCalls
}

// Finished reports whether the stop event was delivered
func (r *Recorder) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}
