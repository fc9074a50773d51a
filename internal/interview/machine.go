package interview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/interviewcapture/internal/capture"
	"github.com/audiolibrelab/interviewcapture/internal/countdown"
	"github.com/audiolibrelab/interviewcapture/internal/recorder"
)

var ErrAlreadyRunning = errors.New("interview is already running")

// Device provides the capture stream for the whole interview
type Device interface {
	Acquire(ctx context.Context) (*capture.Stream, error)
	Release()
}

// Recorder starts one recording per question
type Recorder interface {
	Start(stream *capture.Stream, preferred []string) (*recorder.Handle, error)
}

// Submitter sends answers and requests the final analysis
type Submitter interface {
	SubmitAnswer(ctx context.Context, sessionID, questionID string, payload []byte, mimeType string) error
	Analyze(ctx context.Context, sessionID string) error
}

// Hooks are called from the event loop and must not block
type Hooks struct {
	OnProgress func(Progress)
	OnTick     func(remaining int)
	OnNotice   func(err error)
	OnComplete func()
}

type Options struct {
	// Formats are the preferred recording mime types, best first
	Formats []string
	// DefaultSeconds applies to questions without an estimate (90 when unset)
	DefaultSeconds int
	Clock          countdown.Clock
	Hooks          Hooks
}

// recording is the state of one question attempt
type recording struct {
	index      int
	handle     *recorder.Handle
	mimeType   string
	chunks     [][]byte
	finalized  bool
	uploadLock bool // set before a forced stop, consumed once
}

type answer struct {
	index      int
	questionID string
	payload    []byte
	mimeType   string
}

type (
	forceAdvanceEvent    struct{}
	retryEvent           struct{}
	tickEvent            struct{ gen, remaining int }
	expiredEvent         struct{ gen int }
	recorderStoppedEvent struct{ rec *recording }
	stopAwaitedEvent     struct{ rec *recording }
	uploadedEvent        struct {
		ans *answer
		err error
	}
	analyzedEvent struct{ err error }
)

// Machine sequences recording, upload and analysis for one session.
// All progression state is owned by the goroutine running Run.
type Machine struct {
	session   *Session
	device    Device
	recorder  Recorder
	submitter Submitter
	opts      Options
	timer     *countdown.Timer

	events  chan any
	quit    chan struct{}
	running atomic.Bool

	mu       sync.Mutex
	snapshot Progress

	// event loop state
	ctx       context.Context
	state     State
	index     int
	remaining int
	stream    *capture.Stream
	current   *recording
	pending   *answer
	inflight  bool
	armGen    int
	completed bool
}

// New creates a machine for a validated session
func New(session *Session, device Device, rec Recorder, submitter Submitter, opts Options) (*Machine, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		session:   session,
		device:    device,
		recorder:  rec,
		submitter: submitter,
		opts:      opts,
		timer:     countdown.New(opts.Clock),
		events:    make(chan any, 32),
		quit:      make(chan struct{}),
	}
	m.snapshot = Progress{State: StateIdle, Total: len(session.Questions)}
	return m, nil
}

// ForceAdvance ends the current answer early. It is ignored unless a
// question is being recorded.
func (m *Machine) ForceAdvance() {
	m.post(forceAdvanceEvent{})
}

// Retry re-sends a failed upload, or restarts a recording that could not
// be started. Otherwise it is ignored.
func (m *Machine) Retry() {
	m.post(retryEvent{})
}

// Progress returns the latest published snapshot
func (m *Machine) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Run acquires the capture device and drives the interview until every
// answer is uploaded and analysis has resolved, or ctx is cancelled. The
// device is released and the countdown disarmed on every return path.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.quit)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.ctx = ctx
	defer m.teardown()

	slog.Info("Interview starting", "session", m.session.ID, "questions", len(m.session.Questions))

	stream, err := m.device.Acquire(ctx)
	if err != nil {
		m.notice(err)
		return err
	}
	m.stream = stream
	m.startQuestion(0)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Interview aborted", "session", m.session.ID, "state", m.state, "question", m.index)
			return ctx.Err()
		case ev := <-m.events:
			m.handle(ev)
			if m.state == StateDone {
				slog.Info("Interview complete", "session", m.session.ID)
				return nil
			}
		}
	}
}

func (m *Machine) post(ev any) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.quit:
		return false
	}
}

func (m *Machine) handle(ev any) {
	switch e := ev.(type) {
	case forceAdvanceEvent:
		m.forceAdvance()
	case retryEvent:
		m.retry()
	case tickEvent:
		if e.gen != m.armGen || m.state != StateRecording {
			return
		}
		m.remaining = e.remaining
		m.publish()
		if m.opts.Hooks.OnTick != nil {
			m.opts.Hooks.OnTick(e.remaining)
		}
	case expiredEvent:
		m.expire(e.gen)
	case recorderStoppedEvent:
		m.recorderStopped(e.rec)
	case stopAwaitedEvent:
		if e.rec != m.current || e.rec.finalized {
			return
		}
		e.rec.uploadLock = false
		m.finalize(e.rec)
	case uploadedEvent:
		m.uploaded(e.ans, e.err)
	case analyzedEvent:
		m.analyzed(e.err)
	}
}

func (m *Machine) startQuestion(i int) {
	m.index = i
	q := m.session.Questions[i]

	h, err := m.recorder.Start(m.stream, m.opts.Formats)
	if err != nil {
		m.current = nil
		slog.Error("Failed to start recording", "question", q.ID, "error", err)
		m.setState(StateIdle)
		m.notice(err)
		return
	}

	rec := &recording{index: i, handle: h, mimeType: h.MimeType()}
	m.current = rec

	seconds := q.Seconds(m.opts.DefaultSeconds)
	m.remaining = seconds
	m.arm(seconds)
	m.setState(StateRecording)

	go func() {
		select {
		case <-h.Done():
			m.post(recorderStoppedEvent{rec: rec})
		case <-m.quit:
		}
	}()
}

func (m *Machine) forceAdvance() {
	rec := m.current
	if m.state != StateRecording || rec == nil || rec.finalized {
		slog.Debug("Ignoring advance request", "state", m.state, "question", m.index)
		return
	}

	slog.Info("Advancing to next question", "question", m.session.Questions[rec.index].ID, "remaining", m.remaining)
	m.disarm()
	m.setState(StateUploading)

	rec.uploadLock = true
	if err := rec.handle.Stop(); err != nil {
		slog.Error("Failed to stop recording", "error", err)
	}

	go func() {
		select {
		case <-rec.handle.Done():
			m.post(stopAwaitedEvent{rec: rec})
		case <-m.quit:
		}
	}()
}

func (m *Machine) expire(gen int) {
	if gen != m.armGen || m.state != StateRecording || m.current == nil {
		return
	}

	slog.Info("Answer time is up", "question", m.session.Questions[m.index].ID)
	m.remaining = 0
	m.disarm()
	m.setState(StateUploading)

	if err := m.current.handle.Stop(); err != nil {
		slog.Error("Failed to stop recording", "error", err)
	}
}

// recorderStopped handles the recorder's own completion event
func (m *Machine) recorderStopped(rec *recording) {
	if rec != m.current || rec.finalized {
		return
	}
	if rec.uploadLock {
		rec.uploadLock = false
		slog.Debug("Recorder stop already handled by advance", "question", m.session.Questions[rec.index].ID)
		return
	}
	if m.state == StateRecording {
		slog.Warn("Recorder stopped unexpectedly", "question", m.session.Questions[rec.index].ID)
		m.disarm()
		m.setState(StateUploading)
	}
	m.finalize(rec)
}

// finalize turns a stopped recording into the pending answer and uploads it
func (m *Machine) finalize(rec *recording) {
	rec.finalized = true

	result := rec.handle.Result()
	rec.chunks = result.Chunks
	if result.MimeType != "" {
		rec.mimeType = result.MimeType
	}

	q := m.session.Questions[rec.index]
	m.pending = &answer{
		index:      rec.index,
		questionID: q.ID,
		payload:    recorder.Result{Chunks: rec.chunks, MimeType: rec.mimeType}.Payload(),
		mimeType:   rec.mimeType,
	}
	rec.chunks = nil

	if len(m.pending.payload) == 0 {
		slog.Warn("No media captured, submitting empty answer", "question", q.ID)
	}
	m.submit(m.pending)
}

func (m *Machine) submit(a *answer) {
	m.inflight = true
	ctx := m.ctx
	sessionID := m.session.ID
	go func() {
		err := m.submitter.SubmitAnswer(ctx, sessionID, a.questionID, a.payload, a.mimeType)
		m.post(uploadedEvent{ans: a, err: err})
	}()
}

func (m *Machine) uploaded(a *answer, err error) {
	m.inflight = false
	if a != m.pending {
		return
	}
	if err != nil {
		slog.Error("Answer upload failed", "question", a.questionID, "error", err)
		m.notice(err)
		return
	}

	slog.Info("Answer uploaded", "question", a.questionID, "bytes", len(a.payload))
	m.pending = nil
	m.current = nil

	if next := a.index + 1; next < len(m.session.Questions) {
		m.startQuestion(next)
		return
	}

	m.index = len(m.session.Questions)
	m.setState(StateAnalyzing)

	m.inflight = true
	ctx := m.ctx
	sessionID := m.session.ID
	go func() {
		err := m.submitter.Analyze(ctx, sessionID)
		m.post(analyzedEvent{err: err})
	}()
}

func (m *Machine) analyzed(err error) {
	m.inflight = false
	if m.state != StateAnalyzing {
		return
	}
	if err != nil {
		slog.Error("Analysis request failed", "session", m.session.ID, "error", err)
		m.notice(err)
	}
	m.setState(StateDone)

	if !m.completed {
		m.completed = true
		if m.opts.Hooks.OnComplete != nil {
			m.opts.Hooks.OnComplete()
		}
	}
}

func (m *Machine) retry() {
	switch {
	case m.state == StateUploading && m.pending != nil && !m.inflight:
		slog.Info("Retrying answer upload", "question", m.pending.questionID)
		m.submit(m.pending)
	case m.state == StateIdle && m.stream != nil && m.current == nil:
		slog.Info("Retrying recording", "question", m.session.Questions[m.index].ID)
		m.startQuestion(m.index)
	default:
		slog.Debug("Nothing to retry", "state", m.state)
	}
}

func (m *Machine) arm(seconds int) {
	m.armGen++
	gen := m.armGen
	m.timer.Arm(seconds,
		func(remaining int) { m.post(tickEvent{gen: gen, remaining: remaining}) },
		func() { m.post(expiredEvent{gen: gen}) },
	)
}

// disarm cancels the countdown and invalidates any tick already queued
func (m *Machine) disarm() {
	m.armGen++
	m.timer.Disarm()
}

func (m *Machine) teardown() {
	m.disarm()
	if rec := m.current; rec != nil && rec.handle.Active() {
		if err := rec.handle.Stop(); err != nil {
			slog.Debug("Failed to stop recording during teardown", "error", err)
		}
	}
	m.device.Release()
}

func (m *Machine) setState(s State) {
	if s != m.state {
		slog.Debug("State transition", "from", m.state, "to", s, "question", m.index)
	}
	m.state = s
	p := m.publish()
	if m.opts.Hooks.OnProgress != nil {
		m.opts.Hooks.OnProgress(p)
	}
}

func (m *Machine) publish() Progress {
	p := Progress{
		State:     m.state,
		Index:     m.index,
		Total:     len(m.session.Questions),
		Remaining: m.remaining,
	}
	if m.index < len(m.session.Questions) {
		q := m.session.Questions[m.index]
		p.Question = &q
	}
	if m.state != StateRecording {
		p.Remaining = 0
	}

	m.mu.Lock()
	m.snapshot = p
	m.mu.Unlock()
	return p
}

func (m *Machine) notice(err error) {
	if m.opts.Hooks.OnNotice != nil {
		m.opts.Hooks.OnNotice(err)
	}
}
