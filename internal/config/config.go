// Package config provides the configuration schema and loader for the
// hirevoice interview engine.
package config

import (
	"log/slog"
	"time"

	"github.com/hirevoice/hirevoice/internal/interview"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the slog level, defaulting to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Backend     BackendConfig     `yaml:"backend"`
	Recognizer  RecognizerConfig  `yaml:"recognizer"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Engine      EngineConfig      `yaml:"engine"`
	Archive     ArchiveConfig     `yaml:"archive"`

	// Keywords are vocabulary hints (employer names, technology terms) used
	// for recognition boosting and transcript correction.
	Keywords []string `yaml:"keywords"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig selects the interview backend. When Endpoint is set the
// remote HTTP backend is used; otherwise the in-process LLM backend runs.
// When both are set, the LLM backend serves as a fallback for interviews
// that fail to start on the remote backend.
type BackendConfig struct {
	// Endpoint is the URL of the remote interview backend.
	Endpoint string `yaml:"endpoint"`

	// LLM configures the in-process LLM backend. It is the primary backend
	// when Endpoint is empty, and a fallback otherwise.
	LLM LLMConfig `yaml:"llm"`
}

// LLMConfig selects the LLM behind the in-process interview backend.
type LLMConfig struct {
	// Provider is one of: openai, anthropic, ollama.
	Provider string `yaml:"provider"`

	// Model is the model name (e.g., "gpt-4o-mini", "llama3").
	Model string `yaml:"model"`

	// APIKey overrides the provider's environment variable lookup.
	APIKey string `yaml:"api_key"`
}

// RecognizerConfig configures speech recognition.
type RecognizerConfig struct {
	// Provider is the recognition backend. Currently: deepgram.
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// Model is the provider-specific model name.
	Model string `yaml:"model"`

	// Language is the BCP-47 language tag.
	Language string `yaml:"language"`

	// SampleRate is the capture sample rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// InterimConfidence is the minimum confidence for interim transcripts.
	// Default: 0.5.
	InterimConfidence float64 `yaml:"interim_confidence"`

	// FinalConfidence is the minimum confidence for final transcripts;
	// fragments below it are discarded. Default: 0.7.
	FinalConfidence float64 `yaml:"final_confidence"`
}

// SynthesizerConfig configures speech synthesis.
type SynthesizerConfig struct {
	// Provider is the synthesis backend: openai or elevenlabs.
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// Model is the provider-specific model name.
	Model string `yaml:"model"`

	// VoiceID selects an explicit voice. Empty applies the preference-list
	// selection policy.
	VoiceID string `yaml:"voice_id"`

	// Rate is the speaking rate multiplier in [0.5, 2.0]. Default: 1.0.
	Rate float64 `yaml:"rate"`
}

// EngineConfig holds the turn-taking tuning constants.
type EngineConfig struct {
	// Debounce tunes silence-based end-of-turn detection.
	Debounce interview.DebounceConfig `yaml:"debounce"`

	// GraceMin and GraceMax bound the randomized pause before listening
	// resumes after an interviewer utterance. Defaults: 1s and 2s.
	GraceMin time.Duration `yaml:"grace_min"`
	GraceMax time.Duration `yaml:"grace_max"`

	// RequestTimeout bounds each backend call. Default: 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ArchiveConfig configures the optional interview archive.
type ArchiveConfig struct {
	// PostgresDSN enables archiving of finished interviews when set.
	PostgresDSN string `yaml:"postgres_dsn"`
}
