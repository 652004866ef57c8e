package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Security     SecurityConfig     `yaml:"security"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Retention    RetentionConfig    `yaml:"retention"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains HTTP and websocket server configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// BroadcastResults delivers processed results to every connected
	// session instead of only the originating one.
	BroadcastResults bool `yaml:"broadcast_results"`
}

// AudioConfig contains capture device parameters
type AudioConfig struct {
	SampleRate      int    `yaml:"sample_rate"`
	ChunkDurationMs int    `yaml:"chunk_duration_ms"`
	Device          string `yaml:"device"`          // "command" or "wav"
	CaptureCommand  string `yaml:"capture_command"` // e.g. "arecord -f S16_LE -r 16000 -c 1 -t raw"
	WAVPath         string `yaml:"wav_path"`        // audio source when device is "wav"
}

// SegmentationConfig contains silence detection parameters
type SegmentationConfig struct {
	SilenceThreshold float64 `yaml:"silence_threshold"`
	SilenceDuration  float64 `yaml:"silence_duration"` // seconds
	QueueSize        int     `yaml:"queue_size"`
}

// SecurityConfig contains key material and audit log locations
type SecurityConfig struct {
	KeyFile  string `yaml:"key_file"`
	AuditLog string `yaml:"audit_log"`
}

// OpenAIConfig contains transcription and analysis API configuration.
// The API key is never read from the file; Load takes it from the
// OPENAI_API_KEY environment variable.
type OpenAIConfig struct {
	APIKey             string `yaml:"-"`
	TranscriptionModel string `yaml:"transcription_model"`
	AnalysisModel      string `yaml:"analysis_model"`
	Timeout            int    `yaml:"timeout"` // seconds
	CacheSize          int    `yaml:"cache_size"`
}

// RetentionConfig contains encrypted artifact retention configuration
type RetentionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ArtifactDir   string `yaml:"artifact_dir"`
	SweepInterval int    `yaml:"sweep_interval"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}

	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}

	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true, 44100: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 44100, 48000], got %d", a.SampleRate)
	}

	if a.ChunkDurationMs < 10 || a.ChunkDurationMs > 1000 {
		return fmt.Errorf("chunk_duration_ms must be between 10 and 1000, got %d", a.ChunkDurationMs)
	}

	switch a.Device {
	case "command":
		if a.CaptureCommand == "" {
			return fmt.Errorf("capture_command cannot be empty when device is 'command'")
		}
	case "wav":
		if a.WAVPath == "" {
			return fmt.Errorf("wav_path cannot be empty when device is 'wav'")
		}
	default:
		return fmt.Errorf("device must be 'command' or 'wav', got '%s'", a.Device)
	}

	return nil
}

// Validate validates segmentation configuration
func (s *SegmentationConfig) Validate() error {
	if s.SilenceThreshold <= 0 || s.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1 (exclusive), got %f", s.SilenceThreshold)
	}

	if s.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", s.SilenceDuration)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates security configuration
func (s *SecurityConfig) Validate() error {
	if s.KeyFile == "" {
		return fmt.Errorf("key_file cannot be empty")
	}

	if s.AuditLog == "" {
		return fmt.Errorf("audit_log cannot be empty")
	}

	return nil
}

// Validate validates OpenAI configuration. The API key is checked at
// client construction, not here, so config files can be validated on
// machines without credentials.
func (o *OpenAIConfig) Validate() error {
	if o.TranscriptionModel == "" {
		return fmt.Errorf("transcription_model cannot be empty")
	}

	if o.AnalysisModel == "" {
		return fmt.Errorf("analysis_model cannot be empty")
	}

	if o.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", o.Timeout)
	}

	if o.CacheSize < 1 {
		return fmt.Errorf("cache_size must be at least 1, got %d", o.CacheSize)
	}

	return nil
}

// Validate validates retention configuration
func (r *RetentionConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.ArtifactDir == "" {
		return fmt.Errorf("artifact_dir cannot be empty when retention is enabled")
	}

	if r.SweepInterval < 1 {
		return fmt.Errorf("sweep_interval must be at least 1 second, got %d", r.SweepInterval)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMs) * time.Millisecond
}

// GetSilenceDuration returns the silence window as a time.Duration
func (s *SegmentationConfig) GetSilenceDuration() time.Duration {
	return time.Duration(s.SilenceDuration * float64(time.Second))
}

// GetTimeoutDuration returns the API timeout as a time.Duration
func (o *OpenAIConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}

// GetSweepInterval returns the janitor sweep interval as a time.Duration
func (r *RetentionConfig) GetSweepInterval() time.Duration {
	return time.Duration(r.SweepInterval) * time.Second
}
