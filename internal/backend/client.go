package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

const (
	uploadPath  = "/api/upload-answer/{session_id}/{question_id}"
	analyzePath = "/api/analyze/{session_id}"

	// AnswerField and AnswerFileName describe the multipart part carrying an answer
	AnswerField    = "audio"
	AnswerFileName = "answer.webm"

	defaultContentType = "video/webm"
)

// UploadError reports a failed or rejected answer upload
type UploadError struct {
	SessionID  string
	QuestionID string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload of answer %s for session %s rejected: HTTP %d %s",
			e.QuestionID, e.SessionID, e.StatusCode, strings.TrimSpace(e.Body))
	}
	return fmt.Sprintf("upload of answer %s for session %s failed: %v", e.QuestionID, e.SessionID, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// AnalysisError reports a failed or rejected analysis request
type AnalysisError struct {
	SessionID  string
	StatusCode int
	Body       string
	Err        error
}

func (e *AnalysisError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis of session %s rejected: HTTP %d %s",
			e.SessionID, e.StatusCode, strings.TrimSpace(e.Body))
	}
	return fmt.Sprintf("analysis of session %s failed: %v", e.SessionID, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Client talks to the interview backend
type Client struct {
	http *resty.Client
}

// New creates a client for the backend at baseURL
func New(baseURL string, timeout time.Duration, token string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "interviewcapture")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// NewFromConfig creates a client from the backend section of the configuration
func NewFromConfig(cfg *config.Config) *Client {
	return New(cfg.Backend.BaseURL, time.Duration(cfg.Backend.Timeout)*time.Second, cfg.Backend.Token)
}

// SubmitAnswer uploads one answer. The payload is always sent, even when
// empty, so every question gets exactly one submission.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID, questionID string, payload []byte, mimeType string) error {
	if mimeType == "" {
		mimeType = defaultContentType
	}
	if payload == nil {
		payload = []byte{}
	}

	slog.Info("Uploading answer", "session", sessionID, "question", questionID, "bytes", len(payload), "mime_type", mimeType)

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"session_id":  sessionID,
			"question_id": questionID,
		}).
		SetMultipartField(AnswerField, AnswerFileName, mimeType, bytes.NewReader(payload)).
		Post(uploadPath)
	if err != nil {
		return &UploadError{SessionID: sessionID, QuestionID: questionID, Err: err}
	}
	if !resp.IsSuccess() {
		return &UploadError{
			SessionID:  sessionID,
			QuestionID: questionID,
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
			Err:        fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}

	slog.Debug("Answer accepted", "session", sessionID, "question", questionID, "status", resp.StatusCode())
	return nil
}

// Analyze asks the backend to analyze every uploaded answer of the session
func (c *Client) Analyze(ctx context.Context, sessionID string) error {
	slog.Info("Requesting analysis", "session", sessionID)

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("session_id", sessionID).
		Post(analyzePath)
	if err != nil {
		return &AnalysisError{SessionID: sessionID, Err: err}
	}
	if !resp.IsSuccess() {
		return &AnalysisError{
			SessionID:  sessionID,
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
			Err:        fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}

	slog.Debug("Analysis accepted", "session", sessionID, "status", resp.StatusCode())
	return nil
}
