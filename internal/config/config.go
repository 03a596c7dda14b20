package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role names a logical model slot in the pipeline.
type Role string

const (
	RoleVision Role = "vision" // image to question text
	RoleQuick  Role = "quick"  // short structured analyses
	RoleDeep   Role = "deep"   // full solution and tutoring turns
)

// ModelConfig describes one model endpoint.
type ModelConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout"` // seconds
}

// ModelsConfig holds the process-wide default model per role.
type ModelsConfig struct {
	Vision ModelConfig `yaml:"vision" mapstructure:"vision"`
	Quick  ModelConfig `yaml:"quick" mapstructure:"quick"`
	Deep   ModelConfig `yaml:"deep" mapstructure:"deep"`
}

// ForRole returns the default config for a role.
func (m ModelsConfig) ForRole(role Role) ModelConfig {
	switch role {
	case RoleVision:
		return m.Vision
	case RoleQuick:
		return m.Quick
	default:
		return m.Deep
	}
}

// ServerConfig holds HTTP surface settings.
type ServerConfig struct {
	Host        string   `yaml:"host" mapstructure:"host"`
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Addr renders the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TutoringConfig is policy data for the guided dialogue. All of it is
// configuration, not logic: phrase tables, caps, and prompt persona.
type TutoringConfig struct {
	Persona            string   `yaml:"persona" mapstructure:"persona"`
	EscapePhrases      []string `yaml:"escape_phrases" mapstructure:"escape_phrases"`
	FeedbackPhrases    []string `yaml:"feedback_phrases" mapstructure:"feedback_phrases"`
	MaxRepliesPerStep  int      `yaml:"max_replies_per_step" mapstructure:"max_replies_per_step"`
	MinSteps           int      `yaml:"min_steps" mapstructure:"min_steps"`
	MaxSteps           int      `yaml:"max_steps" mapstructure:"max_steps"`
	HistoryWindow      int      `yaml:"history_window" mapstructure:"history_window"`
	HistoryTruncateLen int      `yaml:"history_truncate_len" mapstructure:"history_truncate_len"`
}

// EventsConfig tunes the SSE publisher and transport.
type EventsConfig struct {
	PendingBufferCap  int `yaml:"pending_buffer_cap" mapstructure:"pending_buffer_cap"`
	HeartbeatInterval int `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"` // seconds
}

// SessionsConfig tunes in-memory session retention.
type SessionsConfig struct {
	MaxAge          time.Duration `yaml:"max_age" mapstructure:"max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// LoggingConfig selects the minimum log level.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// Config is the root configuration, constructed once at startup and read-only
// thereafter.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Models   ModelsConfig   `yaml:"models" mapstructure:"models"`
	Tutoring TutoringConfig `yaml:"tutoring" mapstructure:"tutoring"`
	Events   EventsConfig   `yaml:"events" mapstructure:"events"`
	Sessions SessionsConfig `yaml:"sessions" mapstructure:"sessions"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// DefaultEscapePhrases matches the fixed escape list of the tutoring policy.
func DefaultEscapePhrases() []string {
	return []string{
		"直接给我答案",
		"直接告诉我答案",
		"不想一步步",
		"跳过",
		"放弃",
		"直接讲",
		"give me the answer directly",
		"just give me the answer",
		"skip",
		"i give up",
	}
}

// DefaultFeedbackPhrases is the rotating positive-feedback table, keyed by
// step index modulo its length.
func DefaultFeedbackPhrases() []string {
	return []string{
		"太棒了！你完全理解了这一步！",
		"非常好！思路很清晰！",
		"答得漂亮！我们继续前进！",
		"很好！你抓住了关键点！",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})

	for _, role := range []string{"vision", "quick", "deep"} {
		v.SetDefault("models."+role+".provider", "openai")
		v.SetDefault("models."+role+".base_url", "https://api.openai.com/v1")
		v.SetDefault("models."+role+".temperature", 0.3)
		v.SetDefault("models."+role+".max_tokens", 4096)
		v.SetDefault("models."+role+".timeout", 120)
	}
	v.SetDefault("models.vision.model", "gpt-4o")
	v.SetDefault("models.quick.model", "gpt-4o-mini")
	v.SetDefault("models.deep.model", "gpt-4o")

	v.SetDefault("tutoring.persona", "你是一位耐心、亲切的高中生物老师，擅长循循善诱地引导学生思考。")
	v.SetDefault("tutoring.escape_phrases", DefaultEscapePhrases())
	v.SetDefault("tutoring.feedback_phrases", DefaultFeedbackPhrases())
	v.SetDefault("tutoring.max_replies_per_step", 3)
	v.SetDefault("tutoring.min_steps", 3)
	v.SetDefault("tutoring.max_steps", 7)
	v.SetDefault("tutoring.history_window", 6)
	v.SetDefault("tutoring.history_truncate_len", 300)

	v.SetDefault("events.pending_buffer_cap", 100)
	v.SetDefault("events.heartbeat_interval", 30)

	v.SetDefault("sessions.max_age", 2*time.Hour)
	v.SetDefault("sessions.cleanup_interval", 10*time.Minute)

	v.SetDefault("logging.level", "info")
}

// Load reads configuration from the optional YAML file at path, layered over
// defaults, with BIOTUTOR_* environment overrides on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("BIOTUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// Missing file is fine; defaults plus env cover everything.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that a bad file could violate.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Tutoring.MinSteps < 1 || c.Tutoring.MaxSteps < c.Tutoring.MinSteps {
		return fmt.Errorf("tutoring step bounds invalid: min=%d max=%d", c.Tutoring.MinSteps, c.Tutoring.MaxSteps)
	}
	if c.Events.PendingBufferCap < 1 {
		return fmt.Errorf("events.pending_buffer_cap must be positive: %d", c.Events.PendingBufferCap)
	}
	if len(c.Tutoring.FeedbackPhrases) == 0 {
		c.Tutoring.FeedbackPhrases = DefaultFeedbackPhrases()
	}
	return nil
}
