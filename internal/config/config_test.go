package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMergeConfigs_SelectionAndFallback(t *testing.T) {
	base := Default()

	disabled := false
	profile := &Config{
		Capture: CaptureConfig{
			VideoDevice:  "/dev/video2",
			AudioEnabled: &disabled,
		},
		Recorder: RecorderConfig{
			PreferredFormats: []string{"video/mp4"},
		},
		Backend: BackendConfig{
			BaseURL: "https://interviews.example.com",
		},
	}

	result := mergeConfigs(base, profile)

	// Overridden values
	if result.Capture.VideoDevice != "/dev/video2" {
		t.Errorf("Expected video device '/dev/video2', got %s", result.Capture.VideoDevice)
	}
	if result.AudioEnabled() {
		t.Errorf("Expected audio to be disabled by profile")
	}
	if len(result.Recorder.PreferredFormats) != 1 || result.Recorder.PreferredFormats[0] != "video/mp4" {
		t.Errorf("Expected preferred formats [video/mp4], got %v", result.Recorder.PreferredFormats)
	}
	if result.Backend.BaseURL != "https://interviews.example.com" {
		t.Errorf("Expected base url override, got %s", result.Backend.BaseURL)
	}

	// Inherited values
	if result.Capture.AudioSource != "default" {
		t.Errorf("Expected audio source 'default', got %s", result.Capture.AudioSource)
	}
	if result.Interview.DefaultQuestionSeconds != DefaultQuestionSeconds {
		t.Errorf("Expected default question seconds %d, got %d", DefaultQuestionSeconds, result.Interview.DefaultQuestionSeconds)
	}
	if result.Backend.Timeout != 60 {
		t.Errorf("Expected backend timeout 60, got %d", result.Backend.Timeout)
	}

	// Inheritance tracking
	if result.Inheritance == nil {
		t.Fatal("Inheritance tracking not initialized")
	}
	expectations := map[string]string{
		"capture.video_device":               "profile-specific",
		"capture.audio_enabled":              "profile-specific",
		"capture.audio_source":               "inherited",
		"recorder.preferred_formats":         "profile-specific",
		"recorder.chunk_size":                "inherited",
		"backend.base_url":                   "profile-specific",
		"interview.default_question_seconds": "inherited",
	}
	for key, want := range expectations {
		if got := result.Inheritance[key]; got != want {
			t.Errorf("Inheritance[%s] = %s, want %s", key, got, want)
		}
	}
}

func TestMergeConfigs_DoesNotAliasBase(t *testing.T) {
	base := Default()
	result := mergeConfigs(base, &Config{})

	result.Recorder.PreferredFormats[0] = "video/x-matroska"
	*result.Capture.AudioEnabled = false

	if base.Recorder.PreferredFormats[0] == "video/x-matroska" {
		t.Errorf("Merged config shares preferred formats with base")
	}
	if !base.AudioEnabled() {
		t.Errorf("Merged config shares audio flag with base")
	}
}

func TestMergeConfigs_NilProfile(t *testing.T) {
	result := mergeConfigs(Default(), nil)
	if result.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("Expected default base url, got %s", result.Backend.BaseURL)
	}
}

func TestLoadWithProfile_ActiveConfig(t *testing.T) {
	content := `
active_config: studio

configs:
  default:
    backend:
      base_url: http://backend.internal:9000
      timeout: 30
    interview:
      default_question_seconds: 120

  studio:
    capture:
      video_device: /dev/video4
      audio_source: alsa_input.usb-mic
    recorder:
      preferred_formats:
        - video/webm;codecs=vp8,opus
    server:
      storage_directory: ~/Studio/Answers
`
	configFile := createTempConfig(t, content)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Capture.VideoDevice != "/dev/video4" {
		t.Errorf("Expected video device from profile, got %s", cfg.Capture.VideoDevice)
	}
	if cfg.Capture.AudioSource != "alsa_input.usb-mic" {
		t.Errorf("Expected audio source from profile, got %s", cfg.Capture.AudioSource)
	}

	// Inherited from the "default" profile
	if cfg.Backend.BaseURL != "http://backend.internal:9000" {
		t.Errorf("Expected base url from default profile, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 30 {
		t.Errorf("Expected timeout 30 from default profile, got %d", cfg.Backend.Timeout)
	}
	if cfg.Interview.DefaultQuestionSeconds != 120 {
		t.Errorf("Expected 120 question seconds from default profile, got %d", cfg.Interview.DefaultQuestionSeconds)
	}

	// Inherited from built-in defaults
	if cfg.Recorder.ChunkSize != 64*1024 {
		t.Errorf("Expected built-in chunk size, got %d", cfg.Recorder.ChunkSize)
	}

	// Tilde expansion
	if strings.HasPrefix(cfg.Server.StorageDirectory, "~") {
		t.Errorf("Expected storage directory to be expanded, got %s", cfg.Server.StorageDirectory)
	}
	if !strings.HasSuffix(cfg.Server.StorageDirectory, filepath.Join("Studio", "Answers")) {
		t.Errorf("Unexpected storage directory %s", cfg.Server.StorageDirectory)
	}
}

func TestLoadWithProfile_ExplicitProfileOverridesActive(t *testing.T) {
	content := `
active_config: studio
configs:
  default:
    capture:
      video_device: /dev/video0
  studio:
    capture:
      video_device: /dev/video4
  laptop:
    capture:
      video_device: /dev/video1
`
	configFile := createTempConfig(t, content)

	cfg, err := LoadWithProfile(configFile, "laptop")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Capture.VideoDevice != "/dev/video1" {
		t.Errorf("Expected laptop video device, got %s", cfg.Capture.VideoDevice)
	}
}

func TestLoadWithProfile_MissingProfile(t *testing.T) {
	content := `
configs:
  default:
    capture:
      video_device: /dev/video0
`
	configFile := createTempConfig(t, content)

	_, err := LoadWithProfile(configFile, "nonexistent")
	if err == nil {
		t.Fatal("Expected error for missing profile")
	}
	if !strings.Contains(err.Error(), "configuration profile 'nonexistent' not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadWithProfile_NoConfigFile(t *testing.T) {
	_, err := LoadWithProfile("", "")
	if err == nil {
		t.Fatal("Expected error when no config file is given")
	}
}

func TestLoadWithProfile_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "bad base url",
			content: `
configs:
  default:
    backend:
      base_url: ftp://backend
`,
			want: "backend.base_url must be an http(s) URL",
		},
		{
			name: "bad audio input",
			content: `
configs:
  default:
    capture:
      audio_input: jack
`,
			want: "capture.audio_input must be 'pulse' or 'alsa'",
		},
		{
			name: "negative chunk size",
			content: `
configs:
  default:
    recorder:
      chunk_size: -1
`,
			want: "recorder.chunk_size must be >= 0",
		},
		{
			name: "format without mime type",
			content: `
configs:
  default:
    recorder:
      preferred_formats:
        - webm
`,
			want: "recorder.preferred_formats[0] must be a mime type",
		},
		{
			name: "non numeric port",
			content: `
configs:
  default:
    server:
      port: http
`,
			want: "server.port must be numeric",
		},
		{
			name: "unknown backend",
			content: `
configs:
  default:
    recorder:
      backend: gstreamer
`,
			want: "recorder.backend must be 'ffmpeg' or 'auto'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, tt.content)
			_, err := LoadWithProfile(configFile, "")
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidateConfigurationFormat_EmptyConfigs(t *testing.T) {
	configFile := createTempConfig(t, "active_config: default\n")

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for missing configs section")
	}
	if !strings.Contains(err.Error(), "configs section is required") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := LoadOrDefault(missing, "")
	if err != nil {
		t.Fatalf("Expected defaults when file is missing, got: %v", err)
	}
	if cfg.Interview.DefaultQuestionSeconds != DefaultQuestionSeconds {
		t.Errorf("Expected default question seconds, got %d", cfg.Interview.DefaultQuestionSeconds)
	}

	if _, err := LoadOrDefault(missing, "studio"); err == nil {
		t.Error("Expected error when a named profile is requested without a config file")
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	content := `
active_config: default
configs:
  default:
    capture:
      video_device: /dev/video0
  studio:
    capture:
      video_device: /dev/video4
`
	configFile := createTempConfig(t, content)

	if err := UpdateActiveConfig(configFile, "studio"); err != nil {
		t.Fatalf("UpdateActiveConfig failed: %v", err)
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Capture.VideoDevice != "/dev/video4" {
		t.Errorf("Expected studio profile to be active, got video device %s", cfg.Capture.VideoDevice)
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interviewcapture-test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}
