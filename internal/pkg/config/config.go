package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port           string        `env:"PORT,            default=8000"`
	Env            string        `env:"ENV,             default=development"`
	JWTSecret      string        `env:"JWT_SECRET,      required"`
	TokenExpiry    time.Duration `env:"TOKEN_EXPIRY,    default=480m"`
	LogLevel       string        `env:"LOG_LEVEL,       default=info"`
	LogPretty      bool          `env:"LOG_PRETTY,      default=false"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS, default=http://localhost:3000"`

	Mongo     MongoConfig
	Redis     RedisConfig
	Chat      ChatConfig
	AI        AIConfig
	TTS       TTSConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
}

type MongoConfig struct {
	URI         string `env:"MONGO_URI,           default=mongodb://localhost:27017"`
	Database    string `env:"MONGO_DB,            default=styx_chat"`
	MaxPoolSize uint64 `env:"MONGO_MAX_POOL_SIZE, default=20"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,      default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,        default=0"`
	PoolSize int    `env:"REDIS_POOL_SIZE, default=0"`
}

type ChatConfig struct {
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH, default=2000"`
	MaxHistory       int           `env:"MAX_CHAT_HISTORY,   default=100"`
	PipelineWorkers  int           `env:"PIPELINE_WORKERS,   default=8"`
	PingInterval     time.Duration `env:"WS_PING_INTERVAL,   default=30s"`
	PongTimeout      time.Duration `env:"WS_PONG_TIMEOUT,    default=60s"`
}

type AIConfig struct {
	ModelURL        string        `env:"AI_MODEL_URL,        default=http://localhost:1234"`
	APIKey          string        `env:"AI_API_KEY"`
	Model           string        `env:"AI_MODEL,            default=local-model"`
	AssistantName   string        `env:"AI_ASSISTANT_NAME,   default=Styx"`
	TriggerAlias    string        `env:"AI_TRIGGER_ALIAS,    default=styx"`
	ResponseTimeout time.Duration `env:"AI_RESPONSE_TIMEOUT, default=30s"`
	ContextSize     int           `env:"AI_CONTEXT_SIZE,     default=8"`
	Temperature     float64       `env:"AI_TEMPERATURE,      default=0.7"`
	MaxTokens       int           `env:"AI_MAX_TOKENS,       default=500"`
}

type TTSConfig struct {
	APIKey  string `env:"ELEVENLABS_API_KEY"`
	VoiceID string `env:"ELEVENLABS_VOICE_ID, default=N2lVS1w4EtoT3dr4eOWO"`
	Model   string `env:"ELEVENLABS_MODEL,    default=eleven_flash_v2_5"`
	URL     string `env:"ELEVENLABS_URL,      default=https://api.elevenlabs.io"`
}

type AdminConfig struct {
	Username string `env:"ADMIN_USERNAME, default=admin"`
	Password string `env:"ADMIN_PASSWORD"`
}

type RateLimitConfig struct {
	Auth RateRule `env:"RATE_LIMIT_AUTH, default=5/minute"`
	API  RateRule `env:"RATE_LIMIT_API,  default=100/minute"`
	WS   RateRule `env:"RATE_LIMIT_WS,   default=30/minute"`
}

// RateRule is a token bucket rule written as "<events>/<window>", where the
// window is second, minute, hour or a duration such as 10s.
type RateRule struct {
	Events int
	Window time.Duration
}

// EnvDecode implements envconfig.Decoder.
func (r *RateRule) EnvDecode(val string) error {
	events, window, ok := strings.Cut(strings.TrimSpace(val), "/")
	if !ok {
		return fmt.Errorf("rate rule %q: want <events>/<window>", val)
	}
	n, err := strconv.Atoi(strings.TrimSpace(events))
	if err != nil || n <= 0 {
		return fmt.Errorf("rate rule %q: events must be a positive integer", val)
	}

	var d time.Duration
	switch w := strings.ToLower(strings.TrimSpace(window)); w {
	case "second", "s":
		d = time.Second
	case "minute", "m":
		d = time.Minute
	case "hour", "h":
		d = time.Hour
	default:
		d, err = time.ParseDuration(w)
		if err != nil || d <= 0 {
			return fmt.Errorf("rate rule %q: invalid window", val)
		}
	}

	r.Events, r.Window = n, d
	return nil
}

func (r RateRule) String() string { return fmt.Sprintf("%d/%s", r.Events, r.Window) }

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: failed to load configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Chat.MaxMessageLength <= 0:
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be positive")
	case c.Chat.MaxHistory <= 0:
		return fmt.Errorf("MAX_CHAT_HISTORY must be positive")
	case c.AI.ResponseTimeout <= 0:
		return fmt.Errorf("AI_RESPONSE_TIMEOUT must be positive")
	case c.TokenExpiry <= 0:
		return fmt.Errorf("TOKEN_EXPIRY must be positive")
	case c.Chat.PongTimeout <= c.Chat.PingInterval:
		return fmt.Errorf("WS_PONG_TIMEOUT must exceed WS_PING_INTERVAL")
	}
	return nil
}
