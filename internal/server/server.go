package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

const (
	answerField      = "audio"
	manifestFileName = "analysis.yaml"
	shutdownTimeout  = 5 * time.Second
)

// answerExtensions maps upload content types to stored file extensions
var answerExtensions = map[string]string{
	"video/webm": ".webm",
	"audio/webm": ".webm",
	"video/mp4":  ".mp4",
	"audio/mp4":  ".m4a",
	"audio/ogg":  ".ogg",
}

// Server is a reference interview backend storing answers on disk
type Server struct {
	port       string
	storageDir string
	maxUpload  int64
	startTime  time.Time

	mu       sync.Mutex
	uploads  int
	analyses int
}

// StatusResponse represents the JSON response for the status endpoint
type StatusResponse struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	StorageDirectory string `json:"storage_directory"`
	Uploads          int    `json:"uploads"`
	Analyses         int    `json:"analyses"`
}

// UploadResponse is returned for an accepted answer
type UploadResponse struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	Bytes      int64  `json:"bytes"`
	File       string `json:"file"`
}

// AnswerInfo describes one stored answer
type AnswerInfo struct {
	QuestionID string    `json:"question_id" yaml:"question_id"`
	File       string    `json:"file" yaml:"file"`
	Size       int64     `json:"size" yaml:"size"`
	SizeHuman  string    `json:"size_human" yaml:"-"`
	ModTime    time.Time `json:"mod_time" yaml:"uploaded_at"`
}

// SessionResponse lists the stored answers of a session
type SessionResponse struct {
	SessionID         string       `json:"session_id"`
	Answers           []AnswerInfo `json:"answers"`
	AnalysisRequested bool         `json:"analysis_requested"`
}

// AnalysisManifest is written when analysis is requested for a session
type AnalysisManifest struct {
	SessionID   string       `yaml:"session_id"`
	RequestID   string       `yaml:"request_id"`
	RequestedAt time.Time    `yaml:"requested_at"`
	Answers     []AnswerInfo `yaml:"answers"`
}

// New creates a server from the server section of the configuration
func New(cfg *config.Config) *Server {
	return &Server{
		port:       cfg.Server.Port,
		storageDir: cfg.Server.StorageDirectory,
		maxUpload:  int64(cfg.Server.MaxUploadMB) << 20,
		startTime:  time.Now(),
	}
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/status", s.handleStatus)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload-answer/{session_id}/{question_id}", s.handleUploadAnswer)
		r.Post("/analyze/{session_id}", s.handleAnalyze)
		r.Get("/sessions/{session_id}", s.handleSession)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.storageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting interview backend",
		"port", s.port,
		"storage", s.storageDir,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down interview backend")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	response := StatusResponse{
		Status:           "ok",
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		StorageDirectory: s.storageDir,
		Uploads:          s.uploads,
		Analyses:         s.analyses,
	}
	s.mu.Unlock()

	sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleUploadAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "session_id")
	questionID := pathParam(r, "question_id")
	if sessionID == "" || questionID == "" {
		sendErrorResponse(w, http.StatusBadRequest, "Invalid session or question id", "operation", "upload_answer")
		return
	}

	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendErrorResponse(w, http.StatusRequestEntityTooLarge, "Answer exceeds upload limit",
				"operation", "upload_answer", "limit", maxErr.Limit)
			return
		}
		sendErrorResponse(w, http.StatusBadRequest, "Failed to parse multipart form",
			"operation", "upload_answer", "error", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(answerField)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "No audio part provided", "operation", "upload_answer")
		return
	}
	defer file.Close()

	ext := answerExtension(header.Header.Get("Content-Type"), header.Filename)
	sessionDir := filepath.Join(s.storageDir, encodeID(sessionID))
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "Failed to create session directory",
			"operation", "upload_answer", "error", err)
		return
	}

	// A retried upload replaces the previous answer for the question
	if err := removeAnswers(sessionDir, questionID); err != nil {
		slog.Warn("Failed to remove previous answer", "session", sessionID, "question", questionID, "error", err)
	}

	target := filepath.Join(sessionDir, encodeID(questionID)+ext)
	size, err := writeFileAtomic(target, file)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "Failed to store answer",
			"operation", "upload_answer", "error", err)
		return
	}

	s.mu.Lock()
	s.uploads++
	s.mu.Unlock()

	slog.Info("Answer stored", "session", sessionID, "question", questionID, "bytes", size, "file", target)
	sendJSON(w, http.StatusOK, UploadResponse{
		Success:    true,
		SessionID:  sessionID,
		QuestionID: questionID,
		Bytes:      size,
		File:       filepath.Base(target),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "session_id")
	if sessionID == "" {
		sendErrorResponse(w, http.StatusBadRequest, "Invalid session id", "operation", "analyze")
		return
	}

	sessionDir := filepath.Join(s.storageDir, encodeID(sessionID))
	answers, err := listAnswers(sessionDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sendErrorResponse(w, http.StatusNotFound, "Unknown session", "operation", "analyze", "session", sessionID)
			return
		}
		sendErrorResponse(w, http.StatusInternalServerError, "Failed to read session", "operation", "analyze", "error", err)
		return
	}
	if len(answers) == 0 {
		sendErrorResponse(w, http.StatusNotFound, "Session has no answers", "operation", "analyze", "session", sessionID)
		return
	}

	manifest := AnalysisManifest{
		SessionID:   sessionID,
		RequestID:   w.Header().Get(requestIDHeader),
		RequestedAt: time.Now().UTC(),
		Answers:     answers,
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "Failed to encode manifest", "operation", "analyze", "error", err)
		return
	}
	if _, err := writeFileAtomic(filepath.Join(sessionDir, manifestFileName), bytes.NewReader(data)); err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "Failed to write manifest", "operation", "analyze", "error", err)
		return
	}

	s.mu.Lock()
	s.analyses++
	s.mu.Unlock()

	slog.Info("Analysis requested", "session", sessionID, "answers", len(answers))
	sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
		"answers":    len(answers),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "session_id")
	sessionDir := filepath.Join(s.storageDir, encodeID(sessionID))

	answers, err := listAnswers(sessionDir)
	if err != nil || sessionID == "" {
		sendErrorResponse(w, http.StatusNotFound, "Unknown session", "operation", "session", "session", sessionID)
		return
	}

	_, statErr := os.Stat(filepath.Join(sessionDir, manifestFileName))
	sendJSON(w, http.StatusOK, SessionResponse{
		SessionID:         sessionID,
		Answers:           answers,
		AnalysisRequested: statErr == nil,
	})
}

// listAnswers returns the stored answers of a session sorted by question id
func listAnswers(sessionDir string) ([]AnswerInfo, error) {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return nil, err
	}

	answers := []AnswerInfo{}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == manifestFileName || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		questionID, err := decodeID(entry.Name())
		if err != nil {
			slog.Warn("Skipping unrecognized file", "file", entry.Name(), "error", err)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", entry.Name(), "error", err)
			continue
		}
		answers = append(answers, AnswerInfo{
			QuestionID: questionID,
			File:       entry.Name(),
			Size:       info.Size(),
			SizeHuman:  formatBytes(info.Size()),
			ModTime:    info.ModTime(),
		})
	}

	sort.Slice(answers, func(i, j int) bool {
		return answers[i].QuestionID < answers[j].QuestionID
	})
	return answers, nil
}

// removeAnswers deletes every stored answer for the question, whatever its
// extension
func removeAnswers(sessionDir, questionID string) error {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == manifestFileName {
			continue
		}
		if id, err := decodeID(entry.Name()); err != nil || id != questionID {
			continue
		}
		if err := os.Remove(filepath.Join(sessionDir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// pathParam returns the decoded value of a route parameter. chi matches on
// the escaped path when the request carries one.
func pathParam(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value
	}
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return ""
	}
	return decoded
}

// encodeID maps an id to a single path segment reversibly. Dots are escaped
// too so the only dot in a stored name starts its extension.
func encodeID(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), ".", "%2E")
}

// decodeID recovers the id from a stored file name
func decodeID(name string) (string, error) {
	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("hidden file: %s", name)
	}
	return url.PathUnescape(strings.TrimSuffix(name, filepath.Ext(name)))
}

func writeFileAtomic(target string, src io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, err
	}
	return size, nil
}

// answerExtension picks the stored extension from the part content type,
// falling back to the uploaded file name and then .webm
func answerExtension(contentType, filename string) string {
	// codec parameters like "codecs=vp9,opus" are not valid RFC 2045 values
	mediaType, _, _ := strings.Cut(contentType, ";")
	if ext, ok := answerExtensions[strings.ToLower(strings.TrimSpace(mediaType))]; ok {
		return ext
	}
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && cleanFileName(strings.TrimPrefix(ext, ".")) != "" {
		return "." + cleanFileName(strings.TrimPrefix(ext, "."))
	}
	return ".webm"
}

// cleanFileName sanitizes a path segment
// Allows: letters, numbers, spaces, hyphens, underscores
func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error with context and sends a JSON error body
func sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

const requestIDHeader = "X-Request-Id"

// requestID tags every request with a UUID, keeping one supplied by the client
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", w.Header().Get(requestIDHeader))
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
