package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultQuestionSeconds is used for questions without an estimate
	DefaultQuestionSeconds = 90

	inherited       = "inherited"
	profileSpecific = "profile-specific"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Recorder  RecorderConfig  `mapstructure:"recorder" yaml:"recorder"`
	Interview InterviewConfig `mapstructure:"interview" yaml:"interview"`
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`

	// Internal field to track inheritance information for info command,
	// keyed by dotted setting path (e.g. "backend.base_url")
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

type CaptureConfig struct {
	VideoDevice  string `mapstructure:"video_device" yaml:"video_device"`
	AudioSource  string `mapstructure:"audio_source" yaml:"audio_source"`
	AudioInput   string `mapstructure:"audio_input" yaml:"audio_input"` // "pulse", "alsa"
	AudioEnabled *bool  `mapstructure:"audio_enabled,omitempty" yaml:"audio_enabled,omitempty"`
}

type RecorderConfig struct {
	Backend          string   `mapstructure:"backend" yaml:"backend"` // "ffmpeg", "auto"
	FFmpegPath       string   `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	PreferredFormats []string `mapstructure:"preferred_formats" yaml:"preferred_formats"`
	ChunkSize        int      `mapstructure:"chunk_size" yaml:"chunk_size"`
	StopTimeout      int      `mapstructure:"stop_timeout" yaml:"stop_timeout"` // seconds
}

type InterviewConfig struct {
	DefaultQuestionSeconds int `mapstructure:"default_question_seconds" yaml:"default_question_seconds"`
}

type BackendConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Timeout int    `mapstructure:"timeout" yaml:"timeout"` // seconds
	Token   string `mapstructure:"token" yaml:"token,omitempty"`
}

type ServerConfig struct {
	Port             string `mapstructure:"port" yaml:"port"`
	StorageDirectory string `mapstructure:"storage_directory" yaml:"storage_directory"`
	MaxUploadMB      int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

var audioOn = true

var defaultConfig = Config{
	Capture: CaptureConfig{
		VideoDevice:  "/dev/video0",
		AudioSource:  "default",
		AudioInput:   "pulse",
		AudioEnabled: &audioOn,
	},
	Recorder: RecorderConfig{
		Backend:    "auto",
		FFmpegPath: "ffmpeg",
		PreferredFormats: []string{
			"video/webm;codecs=vp9,opus",
			"video/webm;codecs=vp8,opus",
			"video/webm",
			"video/mp4",
		},
		ChunkSize:   64 * 1024,
		StopTimeout: 5,
	},
	Interview: InterviewConfig{
		DefaultQuestionSeconds: DefaultQuestionSeconds,
	},
	Backend: BackendConfig{
		BaseURL: "http://localhost:8000",
		Timeout: 60,
	},
	Server: ServerConfig{
		Port:             "8000",
		StorageDirectory: filepath.Join(os.Getenv("HOME"), "Interviews"),
		MaxUploadMB:      512,
	},
}

// Default returns a copy of the built-in configuration
func Default() *Config {
	cfg := defaultConfig
	cfg.Recorder.PreferredFormats = append([]string(nil), defaultConfig.Recorder.PreferredFormats...)
	enabled := *defaultConfig.Capture.AudioEnabled
	cfg.Capture.AudioEnabled = &enabled
	cfg.Inheritance = map[string]string{}
	return &cfg
}

// AudioEnabled reports whether the capture stream should carry an audio track
func (c *Config) AudioEnabled() bool {
	return c.Capture.AudioEnabled == nil || *c.Capture.AudioEnabled
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Profiles inherit from the "default" profile, which itself inherits
	// from the built-in defaults
	base := Default()
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	result := mergeConfigs(base, selected)

	result.Server.StorageDirectory = expandPath(result.Server.StorageDirectory)

	if err := validateConfig(result); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// LoadOrDefault loads the config file when it exists and otherwise returns
// the built-in defaults, so the tool runs without any setup
func LoadOrDefault(configFile, profile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			return LoadWithProfile(configFile, profile)
		}
	}
	if profile != "" && profile != "default" {
		return nil, fmt.Errorf("configuration profile '%s' requested but no config file found at %s", profile, configFile)
	}
	return Default(), nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// every setting left empty in the profile falls back to the base value,
// and the origin of each resolved setting is recorded
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: make(map[string]string)}
	if base != nil {
		*result = *base
		result.Recorder.PreferredFormats = append([]string(nil), base.Recorder.PreferredFormats...)
		result.Inheritance = make(map[string]string)
		for k := range base.Inheritance {
			result.Inheritance[k] = inherited
		}
	}

	if profile == nil {
		return result
	}

	pickString := func(key string, dst *string, v string) {
		if v != "" {
			*dst = v
			result.Inheritance[key] = profileSpecific
		} else if _, ok := result.Inheritance[key]; !ok {
			result.Inheritance[key] = inherited
		}
	}
	pickInt := func(key string, dst *int, v int) {
		if v != 0 {
			*dst = v
			result.Inheritance[key] = profileSpecific
		} else if _, ok := result.Inheritance[key]; !ok {
			result.Inheritance[key] = inherited
		}
	}

	pickString("capture.video_device", &result.Capture.VideoDevice, profile.Capture.VideoDevice)
	pickString("capture.audio_source", &result.Capture.AudioSource, profile.Capture.AudioSource)
	pickString("capture.audio_input", &result.Capture.AudioInput, profile.Capture.AudioInput)
	if profile.Capture.AudioEnabled != nil {
		enabled := *profile.Capture.AudioEnabled
		result.Capture.AudioEnabled = &enabled
		result.Inheritance["capture.audio_enabled"] = profileSpecific
	} else if _, ok := result.Inheritance["capture.audio_enabled"]; !ok {
		result.Inheritance["capture.audio_enabled"] = inherited
	}

	pickString("recorder.backend", &result.Recorder.Backend, profile.Recorder.Backend)
	pickString("recorder.ffmpeg_path", &result.Recorder.FFmpegPath, profile.Recorder.FFmpegPath)
	if len(profile.Recorder.PreferredFormats) > 0 {
		result.Recorder.PreferredFormats = append([]string(nil), profile.Recorder.PreferredFormats...)
		result.Inheritance["recorder.preferred_formats"] = profileSpecific
	} else if _, ok := result.Inheritance["recorder.preferred_formats"]; !ok {
		result.Inheritance["recorder.preferred_formats"] = inherited
	}
	pickInt("recorder.chunk_size", &result.Recorder.ChunkSize, profile.Recorder.ChunkSize)
	pickInt("recorder.stop_timeout", &result.Recorder.StopTimeout, profile.Recorder.StopTimeout)

	pickInt("interview.default_question_seconds", &result.Interview.DefaultQuestionSeconds, profile.Interview.DefaultQuestionSeconds)

	pickString("backend.base_url", &result.Backend.BaseURL, profile.Backend.BaseURL)
	pickInt("backend.timeout", &result.Backend.Timeout, profile.Backend.Timeout)
	pickString("backend.token", &result.Backend.Token, profile.Backend.Token)

	pickString("server.port", &result.Server.Port, profile.Server.Port)
	pickString("server.storage_directory", &result.Server.StorageDirectory, profile.Server.StorageDirectory)
	pickInt("server.max_upload_mb", &result.Server.MaxUploadMB, profile.Server.MaxUploadMB)

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// validateConfig checks a fully resolved configuration
func validateConfig(config *Config) error {
	if config.Capture.VideoDevice == "" {
		return fmt.Errorf("capture.video_device is required")
	}
	if config.AudioEnabled() && config.Capture.AudioSource == "" {
		return fmt.Errorf("capture.audio_source is required when audio is enabled")
	}
	if in := config.Capture.AudioInput; in != "pulse" && in != "alsa" {
		return fmt.Errorf("capture.audio_input must be 'pulse' or 'alsa', got: %s", in)
	}

	if b := strings.ToLower(config.Recorder.Backend); b != "ffmpeg" && b != "auto" {
		return fmt.Errorf("recorder.backend must be 'ffmpeg' or 'auto', got: %s", config.Recorder.Backend)
	}
	if len(config.Recorder.PreferredFormats) == 0 {
		return fmt.Errorf("recorder.preferred_formats cannot be empty")
	}
	for i, format := range config.Recorder.PreferredFormats {
		if strings.TrimSpace(format) == "" {
			return fmt.Errorf("recorder.preferred_formats[%d] cannot be empty", i)
		}
		if !strings.Contains(format, "/") {
			return fmt.Errorf("recorder.preferred_formats[%d] must be a mime type, got: %s", i, format)
		}
	}
	if config.Recorder.ChunkSize <= 0 {
		return fmt.Errorf("recorder.chunk_size must be > 0, got: %d", config.Recorder.ChunkSize)
	}
	if config.Recorder.StopTimeout <= 0 {
		return fmt.Errorf("recorder.stop_timeout must be > 0, got: %d", config.Recorder.StopTimeout)
	}

	if config.Interview.DefaultQuestionSeconds <= 0 {
		return fmt.Errorf("interview.default_question_seconds must be > 0, got: %d", config.Interview.DefaultQuestionSeconds)
	}

	u, err := url.Parse(config.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an http(s) URL, got: %s", config.Backend.BaseURL)
	}
	if config.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be > 0, got: %d", config.Backend.Timeout)
	}

	if !isNumeric(config.Server.Port) {
		return fmt.Errorf("server.port must be numeric, got: %s", config.Server.Port)
	}
	if config.Server.StorageDirectory == "" {
		return fmt.Errorf("server.storage_directory is required")
	}
	if config.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be > 0, got: %d", config.Server.MaxUploadMB)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("INTERVIEWCAPTURE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", name)
		}
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	return &rootConfig, nil
}

// validateProfile checks the values a profile sets explicitly; empty values
// are inherited and checked after resolution
func validateProfile(profile *Config) error {
	if profile.Recorder.ChunkSize < 0 {
		return fmt.Errorf("recorder.chunk_size must be >= 0, got: %d", profile.Recorder.ChunkSize)
	}
	if profile.Recorder.StopTimeout < 0 {
		return fmt.Errorf("recorder.stop_timeout must be >= 0, got: %d", profile.Recorder.StopTimeout)
	}
	if profile.Interview.DefaultQuestionSeconds < 0 {
		return fmt.Errorf("interview.default_question_seconds must be >= 0, got: %d", profile.Interview.DefaultQuestionSeconds)
	}
	if profile.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must be >= 0, got: %d", profile.Backend.Timeout)
	}
	if profile.Server.Port != "" && !isNumeric(profile.Server.Port) {
		return fmt.Errorf("server.port must be numeric, got: %s", profile.Server.Port)
	}
	return nil
}
