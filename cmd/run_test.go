package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
	"github.com/audiolibrelab/interviewcapture/internal/interview"
	"github.com/audiolibrelab/interviewcapture/internal/recorder"
)

type recordingControls struct {
	advances int
	retries  int
}

func (c *recordingControls) ForceAdvance() error {
	c.advances++
	return nil
}

func (c *recordingControls) Retry() error {
	c.retries++
	return errors.New("nothing to retry")
}

func TestReadControls(t *testing.T) {
	c := &recordingControls{}
	quits := 0
	readControls(strings.NewReader("\n  \nr\nx\nR\nq\n\n"), c, func() { quits++ })

	assert.Equal(t, 2, c.advances)
	assert.Equal(t, 2, c.retries)
	assert.Equal(t, 1, quits, "input after q is ignored")
}

func TestReadControlsEndOfInput(t *testing.T) {
	c := &recordingControls{}
	quits := 0
	readControls(strings.NewReader("\n"), c, func() { quits++ })

	assert.Equal(t, 1, c.advances)
	assert.Zero(t, quits)
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "1:30", formatRemaining(90))
	assert.Equal(t, "0:05", formatRemaining(5))
	assert.Equal(t, "0:00", formatRemaining(-3))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&backend.UploadError{QuestionID: "q", StatusCode: 503}))
	assert.True(t, retryable(&recorder.RecorderInitError{MimeType: "video/webm", Err: errors.New("boom")}))
	assert.False(t, retryable(&backend.AnalysisError{StatusCode: 500}))
	assert.True(t, retryable(&recorder.NoAudioTrackError{StreamID: "stream-1"}))
	assert.False(t, retryable(errors.New("device unplugged")))
}

func TestConsoleHooks(t *testing.T) {
	var out bytes.Buffer
	hooks := consoleHooks(&out)

	q := &interview.Question{ID: "intro", Text: "Tell us about yourself"}
	hooks.OnProgress(interview.Progress{State: interview.StateRecording, Index: 0, Total: 2, Remaining: 90, Question: q})
	hooks.OnTick(89)
	hooks.OnNotice(&backend.UploadError{QuestionID: "intro", StatusCode: 503})
	hooks.OnProgress(interview.Progress{State: interview.StateDone, Index: 2, Total: 2})

	text := out.String()
	assert.Contains(t, text, "Question 1/2: Tell us about yourself")
	assert.Contains(t, text, "1:29 remaining")
	assert.Contains(t, text, "Press r to retry")
	assert.Contains(t, text, "Interview complete")
}
