package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
	"github.com/audiolibrelab/interviewcapture/internal/config"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.StorageDirectory = t.TempDir()
	cfg.Server.MaxUploadMB = 1

	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestClientRoundTrip(t *testing.T) {
	s, ts := newTestServer(t)
	client := backend.New(ts.URL, 5*time.Second, "")
	ctx := context.Background()

	require.NoError(t, client.SubmitAnswer(ctx, "sess-1", "q0", []byte("first"), "video/webm;codecs=vp9,opus"))
	require.NoError(t, client.SubmitAnswer(ctx, "sess-1", "q1", nil, "video/mp4"))
	require.NoError(t, client.Analyze(ctx, "sess-1"))

	data, err := os.ReadFile(filepath.Join(s.storageDir, "sess-1", "q0.webm"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	info, err := os.Stat(filepath.Join(s.storageDir, "sess-1", "q1.mp4"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	raw, err := os.ReadFile(filepath.Join(s.storageDir, "sess-1", manifestFileName))
	require.NoError(t, err)
	var manifest AnalysisManifest
	require.NoError(t, yaml.Unmarshal(raw, &manifest))
	assert.Equal(t, "sess-1", manifest.SessionID)
	assert.NotEmpty(t, manifest.RequestID)
	require.Len(t, manifest.Answers, 2)
	assert.Equal(t, "q0", manifest.Answers[0].QuestionID)
	assert.Equal(t, "q1", manifest.Answers[1].QuestionID)
}

func TestUploadReplacesPreviousAnswer(t *testing.T) {
	s, ts := newTestServer(t)
	client := backend.New(ts.URL, 5*time.Second, "")
	ctx := context.Background()

	require.NoError(t, client.SubmitAnswer(ctx, "sess-1", "q0", []byte("draft"), "video/mp4"))
	require.NoError(t, client.SubmitAnswer(ctx, "sess-1", "q0", []byte("final"), "video/webm"))

	answers, err := listAnswers(filepath.Join(s.storageDir, "sess-1"))
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "q0.webm", answers[0].File)
}

func TestUploadKeepsDistinctQuestionIDs(t *testing.T) {
	s, ts := newTestServer(t)
	client := backend.New(ts.URL, 5*time.Second, "")
	ctx := context.Background()

	require.NoError(t, client.SubmitAnswer(ctx, "s1", "q.1", nil, "video/webm"))
	require.NoError(t, client.SubmitAnswer(ctx, "s1", "q1", []byte("x"), "video/webm"))
	require.NoError(t, client.SubmitAnswer(ctx, "s1", "q 1", []byte("yy"), "video/webm"))
	require.NoError(t, client.SubmitAnswer(ctx, "s1", "a/b", []byte("zzz"), "video/webm"))

	answers, err := listAnswers(filepath.Join(s.storageDir, "s1"))
	require.NoError(t, err)
	require.Len(t, answers, 4)

	sizes := map[string]int64{}
	for _, a := range answers {
		sizes[a.QuestionID] = a.Size
	}
	assert.Equal(t, map[string]int64{"q.1": 0, "q1": 1, "q 1": 2, "a/b": 3}, sizes)

	// a retry of one id leaves ids sharing its prefix alone
	require.NoError(t, client.SubmitAnswer(ctx, "s1", "q", []byte("first"), "video/mp4"))
	require.NoError(t, client.SubmitAnswer(ctx, "s1", "q", []byte("second"), "video/webm"))
	answers, err = listAnswers(filepath.Join(s.storageDir, "s1"))
	require.NoError(t, err)
	assert.Len(t, answers, 5)
}

func TestEncodeID(t *testing.T) {
	for _, id := range []string{"q1", "q.1", "..", "../etc/passwd", "a b", "100%", "*"} {
		encoded := encodeID(id)
		assert.NotContains(t, encoded, "/")
		assert.NotContains(t, encoded, ".")

		decoded, err := decodeID(encoded + ".webm")
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
	assert.NotEqual(t, encodeID("q.1"), encodeID("q1"))

	_, err := decodeID(".upload-123")
	assert.Error(t, err)
}

func TestUploadRequiresAudioPart(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartBody(t, "video", "answer.webm", "video/webm", []byte("x"))
	resp, err := http.Post(ts.URL+"/api/upload-answer/s/q", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, false, payload["success"])
}

func TestUploadSizeLimit(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartBody(t, "audio", "answer.webm", "video/webm", bytes.Repeat([]byte("a"), 2<<20))
	resp, err := http.Post(ts.URL+"/api/upload-answer/s/q", contentType, body)
	if err != nil {
		// The server may close the connection before the body is fully sent
		return
	}
	defer resp.Body.Close()

	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestAnalyzeUnknownSession(t *testing.T) {
	_, ts := newTestServer(t)
	client := backend.New(ts.URL, 5*time.Second, "")

	err := client.Analyze(context.Background(), "missing")
	var analysisErr *backend.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, http.StatusNotFound, analysisErr.StatusCode)
}

func TestSessionListing(t *testing.T) {
	_, ts := newTestServer(t)
	client := backend.New(ts.URL, 5*time.Second, "")
	ctx := context.Background()

	require.NoError(t, client.SubmitAnswer(ctx, "sess-2", "intro", []byte("12345"), "video/webm"))

	resp, err := http.Get(ts.URL + "/api/sessions/sess-2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	require.Len(t, session.Answers, 1)
	assert.Equal(t, "intro", session.Answers[0].QuestionID)
	assert.Equal(t, int64(5), session.Answers[0].Size)
	assert.False(t, session.AnalysisRequested)

	missing, err := http.Get(ts.URL + "/api/sessions/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestStatus(t *testing.T) {
	_, ts := newTestServer(t)
	client := backend.New(ts.URL, 5*time.Second, "")
	require.NoError(t, client.SubmitAnswer(context.Background(), "s", "q", []byte("x"), "video/webm"))

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 1, status.Uploads)
}

func TestAnswerExtension(t *testing.T) {
	assert.Equal(t, ".webm", answerExtension("video/webm;codecs=vp8,opus", "answer.webm"))
	assert.Equal(t, ".mp4", answerExtension("video/mp4", "answer.webm"))
	assert.Equal(t, ".mkv", answerExtension("video/x-matroska", "answer.mkv"))
	assert.Equal(t, ".webm", answerExtension("", ""))
}

func TestCleanFileName(t *testing.T) {
	assert.Equal(t, "My_Answer-1", cleanFileName(" My Answer-1 "))
	assert.Equal(t, "etcpasswd", cleanFileName("../etc/passwd"))
	assert.Equal(t, "", cleanFileName("../"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
}
