package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upload struct {
	sessionID   string
	questionID  string
	filename    string
	contentType string
	data        []byte
	auth        string
}

type fakeBackend struct {
	mu            sync.Mutex
	uploads       []upload
	analyzed      []string
	uploadStatus  int
	analyzeStatus int
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{uploadStatus: http.StatusOK, analyzeStatus: http.StatusOK}

	r := chi.NewRouter()
	r.Post("/api/upload-answer/{session_id}/{question_id}", func(w http.ResponseWriter, req *http.Request) {
		file, header, err := req.FormFile(AnswerField)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		fb.mu.Lock()
		fb.uploads = append(fb.uploads, upload{
			sessionID:   chi.URLParam(req, "session_id"),
			questionID:  chi.URLParam(req, "question_id"),
			filename:    header.Filename,
			contentType: header.Header.Get("Content-Type"),
			data:        data,
			auth:        req.Header.Get("Authorization"),
		})
		status := fb.uploadStatus
		fb.mu.Unlock()

		w.WriteHeader(status)
	})
	r.Post("/api/analyze/{session_id}", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		fb.analyzed = append(fb.analyzed, chi.URLParam(req, "session_id"))
		status := fb.analyzeStatus
		fb.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte("analysis queued"))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) recorded() ([]upload, []string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]upload(nil), fb.uploads...), append([]string(nil), fb.analyzed...)
}

func TestSubmitAnswerSendsMultipart(t *testing.T) {
	fb, srv := newFakeBackend(t)
	client := New(srv.URL+"/", 5*time.Second, "secret")

	err := client.SubmitAnswer(context.Background(), "sess-1", "q1", []byte("webm-bytes"), "video/webm;codecs=vp8,opus")
	require.NoError(t, err)

	uploads, _ := fb.recorded()
	require.Len(t, uploads, 1)
	got := uploads[0]
	assert.Equal(t, "sess-1", got.sessionID)
	assert.Equal(t, "q1", got.questionID)
	assert.Equal(t, "answer.webm", got.filename)
	assert.Equal(t, "video/webm;codecs=vp8,opus", got.contentType)
	assert.Equal(t, []byte("webm-bytes"), got.data)
	assert.Equal(t, "Bearer secret", got.auth)
}

func TestSubmitAnswerSendsEmptyPayload(t *testing.T) {
	fb, srv := newFakeBackend(t)
	client := New(srv.URL, 5*time.Second, "")

	require.NoError(t, client.SubmitAnswer(context.Background(), "sess-1", "q2", nil, ""))

	uploads, _ := fb.recorded()
	require.Len(t, uploads, 1)
	assert.Empty(t, uploads[0].data)
	assert.Equal(t, "video/webm", uploads[0].contentType)
	assert.Empty(t, uploads[0].auth)
}

func TestSubmitAnswerRejected(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.uploadStatus = http.StatusInternalServerError
	client := New(srv.URL, 5*time.Second, "")

	err := client.SubmitAnswer(context.Background(), "sess-1", "q1", []byte("x"), "video/webm")
	require.Error(t, err)

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, http.StatusInternalServerError, uploadErr.StatusCode)
	assert.Equal(t, "q1", uploadErr.QuestionID)
}

func TestSubmitAnswerTransportFailure(t *testing.T) {
	_, srv := newFakeBackend(t)
	client := New(srv.URL, time.Second, "")
	srv.Close()

	err := client.SubmitAnswer(context.Background(), "sess-1", "q1", []byte("x"), "video/webm")

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Zero(t, uploadErr.StatusCode)
	assert.Error(t, uploadErr.Err)
}

func TestAnalyze(t *testing.T) {
	fb, srv := newFakeBackend(t)
	client := New(srv.URL, 5*time.Second, "")

	require.NoError(t, client.Analyze(context.Background(), "sess-1"))
	_, analyzed := fb.recorded()
	assert.Equal(t, []string{"sess-1"}, analyzed)
}

func TestAnalyzeRejected(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.analyzeStatus = http.StatusBadGateway
	client := New(srv.URL, 5*time.Second, "")

	err := client.Analyze(context.Background(), "sess-1")

	var analysisErr *AnalysisError
	require.True(t, errors.As(err, &analysisErr))
	assert.Equal(t, http.StatusBadGateway, analysisErr.StatusCode)
	assert.Contains(t, analysisErr.Error(), "analysis queued")
}
