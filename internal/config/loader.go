package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a Config with every tunable at its default value. The
// result still needs provider credentials before it validates.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Recognizer: RecognizerConfig{
			Provider:          "deepgram",
			Language:          "en-US",
			SampleRate:        16000,
			InterimConfidence: 0.5,
			FinalConfidence:   0.7,
		},
		Synthesizer: SynthesizerConfig{
			Provider: "openai",
			Rate:     1.0,
		},
		Engine: EngineConfig{
			GraceMin:       time.Second,
			GraceMax:       2 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes YAML from r on top of the defaults and validates
// the result. Unknown fields are rejected so typos surface at startup.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for hard errors, collecting all of them
// rather than stopping at the first. Soft issues are logged as warnings.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}

	switch c.Backend.LLM.Provider {
	case "openai", "anthropic", "ollama":
	case "":
		if c.Backend.Endpoint == "" {
			errs = append(errs, errors.New("backend.endpoint or backend.llm.provider must be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.llm.provider %q is not one of openai, anthropic, ollama", c.Backend.LLM.Provider))
	}
	if c.Backend.LLM.Provider != "" && c.Backend.LLM.Model == "" {
		errs = append(errs, errors.New("backend.llm.model must be set when backend.llm.provider is set"))
	}

	if c.Recognizer.Provider != "deepgram" {
		errs = append(errs, fmt.Errorf("recognizer.provider %q is not supported", c.Recognizer.Provider))
	}
	if c.Recognizer.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("recognizer.sample_rate %d must be positive", c.Recognizer.SampleRate))
	}
	if c.Recognizer.InterimConfidence < 0 || c.Recognizer.InterimConfidence > 1 {
		errs = append(errs, fmt.Errorf("recognizer.interim_confidence %g must be in [0, 1]", c.Recognizer.InterimConfidence))
	}
	if c.Recognizer.FinalConfidence < 0 || c.Recognizer.FinalConfidence > 1 {
		errs = append(errs, fmt.Errorf("recognizer.final_confidence %g must be in [0, 1]", c.Recognizer.FinalConfidence))
	}

	switch c.Synthesizer.Provider {
	case "openai", "elevenlabs":
	default:
		errs = append(errs, fmt.Errorf("synthesizer.provider %q is not one of openai, elevenlabs", c.Synthesizer.Provider))
	}
	if c.Synthesizer.Rate < 0.5 || c.Synthesizer.Rate > 2.0 {
		errs = append(errs, fmt.Errorf("synthesizer.rate %g must be in [0.5, 2.0]", c.Synthesizer.Rate))
	}

	if c.Engine.GraceMin < 0 || c.Engine.GraceMax < c.Engine.GraceMin {
		errs = append(errs, fmt.Errorf("engine grace window [%s, %s] is invalid", c.Engine.GraceMin, c.Engine.GraceMax))
	}
	if c.Engine.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.request_timeout %s must be positive", c.Engine.RequestTimeout))
	}
	if d := c.Engine.Debounce; d.ShortDelay < 0 || d.LongDelay < 0 || (d.ShortDelay > 0 && d.LongDelay > 0 && d.LongDelay < d.ShortDelay) {
		errs = append(errs, errors.New("engine.debounce delays are invalid: long_delay must be >= short_delay"))
	}

	if len(c.Keywords) > 100 {
		slog.Warn("large keyword vocabulary slows transcript correction",
			slog.Int("count", len(c.Keywords)))
	}

	return errors.Join(errs...)
}
