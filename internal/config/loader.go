package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// apiKeyEnv is the environment variable that overrides gateway.api_key.
const apiKeyEnv = "GLIMPSE_API_KEY"

// Defaults applied by [LoadFromReader] for fields left unset.
const (
	DefaultGatewayURL    = "https://api.glimpse.dev"
	DefaultThinkingLevel = "medium"
	DefaultLiveModel     = "gemini-2.0-flash-live-001"
	DefaultLiveVoice     = "Kore"
	DefaultSampleRate    = 24000
	DefaultChannels      = 1
	DefaultBitDepth      = 16
)

// validThinkingLevels lists the reasoning effort levels the gateway accepts.
var validThinkingLevels = []string{"minimal", "low", "medium", "high"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// GLIMPSE_API_KEY environment override, and validates the result. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	if key := os.Getenv(apiKeyEnv); key != "" {
		cfg.Gateway.APIKey = key
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = DefaultGatewayURL
	}
	if cfg.Gateway.ThinkingLevel == "" {
		cfg.Gateway.ThinkingLevel = DefaultThinkingLevel
	}
	if cfg.Live.Model == "" {
		cfg.Live.Model = DefaultLiveModel
	}
	if cfg.Live.Voice == "" {
		cfg.Live.Voice = DefaultLiveVoice
	}
	if cfg.Live.SampleRate == 0 {
		cfg.Live.SampleRate = DefaultSampleRate
	}
	if cfg.Live.Channels == 0 {
		cfg.Live.Channels = DefaultChannels
	}
	if cfg.Live.BitDepth == 0 {
		cfg.Live.BitDepth = DefaultBitDepth
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	valid := false
	for _, l := range validThinkingLevels {
		if cfg.Gateway.ThinkingLevel == l {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, fmt.Errorf("gateway.thinking_level %q is invalid; valid values: minimal, low, medium, high", cfg.Gateway.ThinkingLevel))
	}

	if cfg.Live.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("live.sample_rate must be positive, got %d", cfg.Live.SampleRate))
	}
	if cfg.Live.Channels <= 0 {
		errs = append(errs, fmt.Errorf("live.channels must be positive, got %d", cfg.Live.Channels))
	}
	if cfg.Live.BitDepth <= 0 {
		errs = append(errs, fmt.Errorf("live.bit_depth must be positive, got %d", cfg.Live.BitDepth))
	}

	return errors.Join(errs...)
}
