package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"message-board/runtime"

	"github.com/samber/lo"
)

const production = "production"

type Config struct {
	Host                     string        `env:"HOST"`
	Port                     int           `env:"PORT,default=5000"`
	AppEnv                   string        `env:"APP_ENV,default=development"`
	LogLevel                 string        `env:"LOG_LEVEL"`
	BadgerFilepath           string        `env:"BADGER_FILEPATH,default=db.badger"`
	BadgerInMemory           bool          `env:"BADGER_IN_MEMORY,default=false"`
	ResetOnStart             bool          `env:"RESET_ON_START,default=false"`
	SeedOnStart              bool          `env:"SEED_ON_START,default=true"`
	LimitMessages            *int          `env:"LIMIT_MESSAGES"`
	CorsAllowedOrigins       string        `env:"CORS_ALLOWED_ORIGINS,default=*"`
	SubscriptionBufferPolicy string        `env:"SUBSCRIPTION_BUFFER_POLICY,default=none"`
	SubscriptionBufferSize   int           `env:"SUBSCRIPTION_BUFFER_SIZE,default=256"`
	MaxContentLength         int           `env:"MAX_CONTENT_LENGTH,default=0"`
	CensoredWords            string        `env:"CENSORED_WORDS"`
	CharReplacement          string        `env:"CHARACTER_REPLACEMENT,default=*"`
	HealthPort               int           `env:"HEALTH_PORT,default=0"`
	HealthInterval           time.Duration `env:"HEALTH_INTERVAL,default=10s"`
	HeartbeatInterval        time.Duration `env:"HEARTBEAT_INTERVAL,default=1m"`
	RestartInterval          time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ShutdownTimeout          time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	WSInitTimeout            time.Duration `env:"WS_INIT_TIMEOUT,default=3s"`
	WSPingInterval           time.Duration `env:"WS_PING_INTERVAL,default=30s"`
	DebugPort                int           `env:"DEBUG_PORT,default=0"`
}

// Validate rejects settings the binary cannot start with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT out of range: %d", c.HealthPort)
	}
	policy, err := c.BufferPolicy()
	if err != nil {
		return err
	}
	if policy == runtime.BufferDropOldest && c.SubscriptionBufferSize < 1 {
		return fmt.Errorf("SUBSCRIPTION_BUFFER_SIZE must be positive with %q, got %d", policy, c.SubscriptionBufferSize)
	}
	if c.MaxContentLength < 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must not be negative, got %d", c.MaxContentLength)
	}
	if c.LimitMessages != nil && *c.LimitMessages < 1 {
		return fmt.Errorf("LIMIT_MESSAGES must be positive, got %d", *c.LimitMessages)
	}
	if !c.BadgerInMemory && c.BadgerFilepath == "" {
		return fmt.Errorf("BADGER_FILEPATH is required unless BADGER_IN_MEMORY is set")
	}
	for name, d := range map[string]time.Duration{
		"HEALTH_INTERVAL":    c.HealthInterval,
		"HEARTBEAT_INTERVAL": c.HeartbeatInterval,
		"WS_INIT_TIMEOUT":    c.WSInitTimeout,
		"WS_PING_INTERVAL":   c.WSPingInterval,
		"SHUTDOWN_TIMEOUT":   c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	_, err = CharacterRune(c.CharReplacement)
	return err
}

func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, production)
}

// Level is LOG_LEVEL when set, INFO in production and DEBUG otherwise.
func (c Config) Level() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	if c.Production() {
		return slog.LevelInfo.String()
	}
	return slog.LevelDebug.String()
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) BufferPolicy() (runtime.BufferPolicy, error) {
	return runtime.ParseBufferPolicy(c.SubscriptionBufferPolicy)
}

// Origins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	return splitList(c.CorsAllowedOrigins)
}

// Words splits CENSORED_WORDS on commas. An empty list disables moderation.
func (c Config) Words() []string {
	return splitList(c.CensoredWords)
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
