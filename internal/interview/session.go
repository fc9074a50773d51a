package interview

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/interviewcapture/internal/countdown"
)

var (
	ErrNoQuestions       = errors.New("session has no questions")
	ErrMissingQuestionID = errors.New("question id is required")
	ErrDuplicateQuestion = errors.New("duplicate question id")
)

// Question is one interview prompt
type Question struct {
	ID               string `yaml:"id" json:"id"`
	Text             string `yaml:"text" json:"text"`
	EstimatedSeconds int    `yaml:"estimated_seconds,omitempty" json:"estimated_seconds,omitempty"`
}

// Seconds returns the countdown length for the question. Questions without
// a positive estimate use fallback, and 90 seconds when fallback is unset.
func (q Question) Seconds(fallback int) int {
	if q.EstimatedSeconds > 0 {
		return q.EstimatedSeconds
	}
	return countdown.Seconds(fallback)
}

// Session is the ordered list of questions for one candidate
type Session struct {
	ID        string     `yaml:"session_id" json:"session_id"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// NewSession creates a session, generating an id when none is given
func NewSession(id string, questions ...Question) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{ID: id, Questions: questions}
}

// Validate checks that the session has questions with unique ids
func (s *Session) Validate() error {
	if s == nil || len(s.Questions) == 0 {
		return ErrNoQuestions
	}
	seen := make(map[string]bool, len(s.Questions))
	for i, q := range s.Questions {
		if q.ID == "" {
			return fmt.Errorf("questions[%d]: %w", i, ErrMissingQuestionID)
		}
		if seen[q.ID] {
			return fmt.Errorf("questions[%d]: %w: %s", i, ErrDuplicateQuestion, q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

// ParseSession decodes a session document. JSON documents are accepted as
// they are valid YAML.
func ParseSession(data []byte) (*Session, error) {
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSession reads a session file
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	s, err := ParseSession(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
