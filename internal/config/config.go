package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Nexus environment variables.
const EnvPrefix = "NEXUS_"

const (
	ScopeConnection = "connection"
	ScopeProcess    = "process"
)

const (
	EngineEspeak   = "espeak"
	EngineDeepgram = "deepgram"
	EngineNone     = "none"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr        string   `yaml:"listen_addr"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	Model             string   `yaml:"model"`
	SystemPrompt      string   `yaml:"system_prompt"`
	MaxTokens         int64    `yaml:"max_tokens"`
	Temperature       *float64 `yaml:"temperature"`
	ProviderBaseURL   string   `yaml:"provider_base_url"`
	CompletionTimeout string   `yaml:"completion_timeout"`
	DBPath            string   `yaml:"db_path"`
	MaxPendingTurns   int      `yaml:"max_pending_turns"`

	RateLimit  RateLimit  `yaml:"rate_limit"`
	Transcript Transcript `yaml:"transcript"`
	Client     Client     `yaml:"client"`
	Speech     Speech     `yaml:"speech"`
	Log        Log        `yaml:"log"`

	// Secrets come from env vars only and are never serialized to YAML.
	OpenAIAPIKey     string `yaml:"-"`
	OpenRouterAPIKey string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	GeminiAPIKey     string `yaml:"-"`
	DeepgramAPIKey   string `yaml:"-"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Transcript controls server-side conversation context. Scope "connection"
// gives every websocket its own history; "process" shares one history across
// all connections, so turns from different clients interleave.
type Transcript struct {
	Scope    string `yaml:"scope"`
	MaxTurns int    `yaml:"max_turns"`
}

type Client struct {
	ServerURL       string `yaml:"server_url"`
	WaveDuration    string `yaml:"wave_duration"`
	SentDuration    string `yaml:"sent_duration"`
	ThinkingTimeout string `yaml:"thinking_timeout"`
}

// Speech selects the client's synthesizer. Engine is "espeak", "deepgram"
// or "none".
type Speech struct {
	Enabled    bool    `yaml:"enabled"`
	Engine     string  `yaml:"engine"`
	Command    string  `yaml:"command"`
	SampleRate int     `yaml:"sample_rate"`
	Voice      string  `yaml:"voice"`
	Rate       float64 `yaml:"rate"`
	Pitch      float64 `yaml:"pitch"`
	Volume     float64 `yaml:"volume"`
	Language   string  `yaml:"language"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const defaultSystemPrompt = "You are Nexus, a friendly assistant with an animated robot avatar. Keep replies short enough to be spoken aloud."

func defaults() Config {
	return Config{
		ListenAddr:        ":3000",
		AllowedOrigins:    []string{"http://localhost:5173"},
		Model:             "openrouter/openai/gpt-4o-mini",
		SystemPrompt:      defaultSystemPrompt,
		MaxTokens:         300,
		CompletionTimeout: "60s",
		DBPath:            "data/nexus.db",
		MaxPendingTurns:   8,
		RateLimit:         RateLimit{RPS: 1, Burst: 5},
		Transcript:        Transcript{Scope: ScopeConnection},
		Client: Client{
			ServerURL:       "ws://localhost:3000/ws",
			WaveDuration:    "4.2s",
			SentDuration:    "320ms",
			ThinkingTimeout: "30s",
		},
		Speech: Speech{
			Enabled:    true,
			Engine:     EngineEspeak,
			Command:    "espeak-ng",
			SampleRate: 24000,
			Voice:      "Google UK English Male",
			Rate:       1.0,
			Pitch:      1.0,
			Volume:     1.0,
			Language:   "en-US",
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// APIKeyFor returns the secret matching an LLM provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "openrouter":
		return c.OpenRouterAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func (c *Config) ParsedCompletionTimeout() time.Duration {
	return parseDurationOr(c.CompletionTimeout, 60*time.Second)
}

func (c *Config) ParsedWaveDuration() time.Duration {
	return parseDurationOr(c.Client.WaveDuration, 4200*time.Millisecond)
}

func (c *Config) ParsedSentDuration() time.Duration {
	return parseDurationOr(c.Client.SentDuration, 320*time.Millisecond)
}

func (c *Config) ParsedThinkingTimeout() time.Duration {
	return parseDurationOr(c.Client.ThinkingTimeout, 30*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv(EnvPrefix + "MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv(EnvPrefix + "SYSTEM_PROMPT"); v != "" {
		cfg.SystemPrompt = v
	}
	if v := os.Getenv(EnvPrefix + "TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.Temperature = &t
		}
	}
	if v := os.Getenv(EnvPrefix + "PROVIDER_BASE_URL"); v != "" {
		cfg.ProviderBaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "COMPLETION_TIMEOUT"); v != "" {
		cfg.CompletionTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_PENDING_TURNS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxPendingTurns = n
		}
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_SCOPE"); v != "" {
		cfg.Transcript.Scope = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.Transcript.MaxTurns = n
		}
	}
	if v := os.Getenv(EnvPrefix + "SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv(EnvPrefix + "THINKING_TIMEOUT"); v != "" {
		cfg.Client.ThinkingTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "SPEECH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Speech.Enabled = b
		}
	}
	if v := os.Getenv(EnvPrefix + "SPEECH_ENGINE"); v != "" {
		cfg.Speech.Engine = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "SPEECH_COMMAND"); v != "" {
		cfg.Speech.Command = v
	}
	if v := os.Getenv(EnvPrefix + "SPEECH_VOICE"); v != "" {
		cfg.Speech.Voice = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.OpenRouterAPIKey = os.Getenv(EnvPrefix + "OPENROUTER_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	provider, _, ok := strings.Cut(cfg.Model, "/")
	if !ok || provider == "" {
		warnings = append(warnings, fmt.Sprintf("Invalid model %q; expected provider/model_name.", cfg.Model))
	} else if cfg.APIKeyFor(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("%s API key not configured; completions will fail. Set %s%s_API_KEY.",
			provider, EnvPrefix, strings.ToUpper(provider)))
	}

	switch cfg.Transcript.Scope {
	case ScopeConnection:
	case ScopeProcess:
		warnings = append(warnings, "Transcript scope is \"process\"; all connections share one conversation history.")
	default:
		warnings = append(warnings, fmt.Sprintf("Invalid transcript scope %q; using %q.", cfg.Transcript.Scope, ScopeConnection))
		cfg.Transcript.Scope = ScopeConnection
	}

	switch cfg.Speech.Engine {
	case EngineEspeak, EngineNone:
	case EngineDeepgram:
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, fmt.Sprintf("Deepgram API key not configured; speech will be silent. Set %sDEEPGRAM_API_KEY.", EnvPrefix))
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Invalid speech engine %q; using %q.", cfg.Speech.Engine, EngineEspeak))
		cfg.Speech.Engine = EngineEspeak
	}
	if cfg.Speech.SampleRate <= 0 {
		cfg.Speech.SampleRate = 24000
	}

	for name, raw := range map[string]string{
		"completion_timeout": cfg.CompletionTimeout,
		"wave_duration":      cfg.Client.WaveDuration,
		"sent_duration":      cfg.Client.SentDuration,
		"thinking_timeout":   cfg.Client.ThinkingTimeout,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q; using default.", name, raw))
		}
	}

	if cfg.MaxPendingTurns <= 0 {
		cfg.MaxPendingTurns = 8
	}
	if cfg.Temperature != nil && (*cfg.Temperature < 0 || *cfg.Temperature > 2) {
		warnings = append(warnings, fmt.Sprintf("Invalid temperature %g; using the provider default.", *cfg.Temperature))
		cfg.Temperature = nil
	}

	return warnings
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
