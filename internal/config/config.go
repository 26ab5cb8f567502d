// Package config provides the configuration schema and loader for the
// Glimpse CLI.
package config

// LogLevel controls log verbosity.
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

// Config is the root configuration structure for Glimpse. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel LogLevel      `yaml:"log_level"`
	Gateway  GatewayConfig `yaml:"gateway"`
	Live     LiveConfig    `yaml:"live"`
	Output   OutputConfig  `yaml:"output"`
	Debug    DebugConfig   `yaml:"debug"`
}

// GatewayConfig holds settings for the vision gateway's analysis API.
type GatewayConfig struct {
	// BaseURL is the gateway's HTTP base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates gateway and live-channel calls. The
	// GLIMPSE_API_KEY environment variable takes precedence when set, so
	// the credential can stay out of the config file.
	APIKey string `yaml:"api_key"`

	// ThinkingLevel is the default reasoning effort for analysis requests:
	// minimal, low, medium, or high.
	ThinkingLevel string `yaml:"thinking_level"`

	// Streaming selects incremental SSE delivery by default.
	Streaming bool `yaml:"streaming"`
}

// LiveConfig holds settings for the live audio narration channel.
type LiveConfig struct {
	// Model is the Gemini Live model used for narration sessions.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name used for audio output.
	Voice string `yaml:"voice"`

	// SampleRate, Channels and BitDepth describe the PCM layout the model
	// emits; they parameterise the WAV container written on completion.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// OutputConfig controls where derived artifacts are written.
type OutputConfig struct {
	// Dir is the directory narration WAV files are written to. Empty means
	// next to the source image.
	Dir string `yaml:"dir"`
}

// DebugConfig enables the optional diagnostics listener.
type DebugConfig struct {
	// ListenAddr, when non-empty, serves /metrics, /healthz and /readyz on
	// this TCP address while a flow runs.
	ListenAddr string `yaml:"listen_addr"`
}
