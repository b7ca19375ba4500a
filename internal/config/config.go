package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the client's environment configuration.
type Config struct {
	ServerURL  string `env:"CHAT_SERVER_URL" envDefault:"ws://localhost:8080/ws"`
	APIBaseURL string `env:"CHAT_API_BASE_URL" envDefault:"http://localhost:8080"`
	Token      string `env:"CHAT_TOKEN"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Realtime tuning knobs. The defaults match the server's expectations;
	// override only in tests.
	TypingDebounce   time.Duration `env:"CHAT_TYPING_DEBOUNCE" envDefault:"1000ms"`
	TypingExpiry     time.Duration `env:"CHAT_TYPING_EXPIRY" envDefault:"3000ms"`
	ReconnectMaxWait time.Duration `env:"CHAT_RECONNECT_MAX_WAIT" envDefault:"30s"`
	RequestTimeout   time.Duration `env:"CHAT_REQUEST_TIMEOUT" envDefault:"15s"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
