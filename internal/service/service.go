package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
	"github.com/audiolibrelab/interviewcapture/internal/capture"
	"github.com/audiolibrelab/interviewcapture/internal/config"
	"github.com/audiolibrelab/interviewcapture/internal/countdown"
	"github.com/audiolibrelab/interviewcapture/internal/interview"
	"github.com/audiolibrelab/interviewcapture/internal/recorder"
)

// ErrNoInterview is returned by controls when no interview is running
var ErrNoInterview = errors.New("no interview is running")

// Service represents the core interview capture service interface
type Service interface {
	// Interview operations
	RunInterview(ctx context.Context, session *interview.Session, hooks interview.Hooks) error
	ForceAdvance() error
	Retry() error
	GetProgress() (interview.Progress, bool)

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Information operations
	GetSessionInfo(session *interview.Session) *SessionInfo
	GetLastError() string
}

// Components are the collaborators an interview runs against. Zero fields
// are built from the configuration.
type Components struct {
	Source    capture.MediaSource
	Engine    recorder.Engine
	Submitter interview.Submitter
	Clock     countdown.Clock
}

// SessionInfo describes how a session would be recorded with the current
// configuration
type SessionInfo struct {
	SessionID string         `json:"session_id"`
	Format    string         `json:"format"`
	Backend   string         `json:"backend"`
	Questions []QuestionInfo `json:"questions"`
}

// QuestionInfo carries the effective duration of one question
type QuestionInfo struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Seconds   int    `json:"seconds"`
	Estimated bool   `json:"estimated"`
}

// InterviewService is the main service implementation
type InterviewService struct {
	cfg        *config.Config
	configFile string
	overrides  Components

	machineMutex sync.RWMutex
	machine      *interview.Machine

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new interview service instance
func New(cfg *config.Config, configFile string) Service {
	return NewWithComponents(cfg, configFile, Components{})
}

// NewWithComponents creates a service that uses the given collaborators in
// place of the configured ones
func NewWithComponents(cfg *config.Config, configFile string, c Components) Service {
	return &InterviewService{
		cfg:        cfg,
		configFile: configFile,
		overrides:  c,
	}
}

// components fills the zero fields of the overrides from the configuration
func (s *InterviewService) components() Components {
	c := s.overrides
	if c.Source == nil {
		c.Source = &capture.SystemSource{
			VideoDevice:  s.cfg.Capture.VideoDevice,
			AudioSource:  s.cfg.Capture.AudioSource,
			AudioInput:   s.cfg.Capture.AudioInput,
			AudioEnabled: s.cfg.AudioEnabled(),
		}
	}
	if c.Engine == nil {
		c.Engine = recorder.NewEngine(s.cfg)
	}
	if c.Submitter == nil {
		c.Submitter = backend.NewFromConfig(s.cfg)
	}
	return c
}

// RunInterview records every question of the session and blocks until the
// interview completes or ctx is cancelled
func (s *InterviewService) RunInterview(ctx context.Context, session *interview.Session, hooks interview.Hooks) error {
	slog.Debug("Service.RunInterview called", "session_id", session.ID, "questions", len(session.Questions))
	s.clearLastError()

	c := s.components()
	m, err := interview.New(session, capture.NewDevice(c.Source), recorder.NewController(c.Engine), c.Submitter, interview.Options{
		Formats:        s.cfg.Recorder.PreferredFormats,
		DefaultSeconds: s.cfg.Interview.DefaultQuestionSeconds,
		Clock:          c.Clock,
		Hooks:          s.wrapHooks(hooks),
	})
	if err != nil {
		s.setLastError(fmt.Sprintf("Invalid session: %v", err))
		return err
	}

	s.machineMutex.Lock()
	if s.machine != nil {
		s.machineMutex.Unlock()
		return interview.ErrAlreadyRunning
	}
	s.machine = m
	s.machineMutex.Unlock()

	defer func() {
		s.machineMutex.Lock()
		s.machine = nil
		s.machineMutex.Unlock()
	}()

	if err := m.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.setLastError(fmt.Sprintf("Interview failed: %v", err))
		}
		return err
	}
	slog.Debug("Service.RunInterview completed", "session_id", session.ID)
	return nil
}

// wrapHooks records notices as the last error before passing them on
func (s *InterviewService) wrapHooks(hooks interview.Hooks) interview.Hooks {
	wrapped := hooks
	wrapped.OnNotice = func(err error) {
		s.setLastError(err.Error())
		if hooks.OnNotice != nil {
			hooks.OnNotice(err)
		}
	}
	wrapped.OnProgress = func(p interview.Progress) {
		// a fresh recording supersedes the previous failure
		if p.State == interview.StateRecording {
			s.clearLastError()
		}
		if hooks.OnProgress != nil {
			hooks.OnProgress(p)
		}
	}
	return wrapped
}

func (s *InterviewService) current() (*interview.Machine, error) {
	s.machineMutex.RLock()
	defer s.machineMutex.RUnlock()
	if s.machine == nil {
		return nil, ErrNoInterview
	}
	return s.machine, nil
}

// ForceAdvance ends the current answer early
func (s *InterviewService) ForceAdvance() error {
	m, err := s.current()
	if err != nil {
		return err
	}
	m.ForceAdvance()
	return nil
}

// Retry re-sends a failed upload or restarts a failed recording
func (s *InterviewService) Retry() error {
	m, err := s.current()
	if err != nil {
		return err
	}
	s.clearLastError()
	m.Retry()
	return nil
}

// GetProgress returns the progress of the running interview
func (s *InterviewService) GetProgress() (interview.Progress, bool) {
	m, err := s.current()
	if err != nil {
		return interview.Progress{}, false
	}
	return m.Progress(), true
}

// LoadProfile loads a new configuration profile
func (s *InterviewService) LoadProfile(profile string) error {
	if _, err := s.current(); err == nil {
		return fmt.Errorf("cannot switch profile to '%s': %w", profile, interview.ErrAlreadyRunning)
	}
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}
	s.cfg = newCfg
	return nil
}

// GetConfig returns the current configuration
func (s *InterviewService) GetConfig() *config.Config {
	return s.cfg
}

// GetSessionInfo returns the recording format and effective question
// durations for a session
func (s *InterviewService) GetSessionInfo(session *interview.Session) *SessionInfo {
	c := s.components()
	format := recorder.SelectFormat(c.Engine, s.cfg.Recorder.PreferredFormats)
	if format == "" {
		format = recorder.DefaultMimeType + " (engine default)"
	}

	info := &SessionInfo{
		SessionID: session.ID,
		Format:    format,
		Backend:   s.cfg.Backend.BaseURL,
	}
	for _, q := range session.Questions {
		info.Questions = append(info.Questions, QuestionInfo{
			ID:        q.ID,
			Text:      q.Text,
			Seconds:   q.Seconds(s.cfg.Interview.DefaultQuestionSeconds),
			Estimated: q.EstimatedSeconds > 0,
		})
	}
	return info
}

// GetLastError returns the last error message (thread-safe)
func (s *InterviewService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *InterviewService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *InterviewService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
