package main

import (
	"flag"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const defaultRelayURL = "https://discordrelay.lacha.dev/relay"

type Config struct {
	Port                 int           `env:"DCMOD_PORT" envDefault:"25580"`
	RelayEnabled         bool          `env:"DCMOD_RELAY_ENABLED" envDefault:"true"`
	RelayURL             string        `env:"DCMOD_RELAY_URL" envDefault:"https://discordrelay.lacha.dev/relay"`
	RelayToken           string        `env:"DCMOD_RELAY_TOKEN"`
	RelayTimeout         time.Duration `env:"DCMOD_RELAY_TIMEOUT" envDefault:"4s"`
	RelayClientID        string        `env:"DCMOD_RELAY_CLIENT_ID"`
	MaxMessagesPerMinute int           `env:"DCMOD_MAX_MESSAGES_PER_MINUTE" envDefault:"45"`
	LocalChatToDiscord   bool          `env:"DCMOD_LOCAL_CHAT_TO_DISCORD" envDefault:"true"`
	PlayerName           string        `env:"DCMOD_PLAYER_NAME" envDefault:"Player"`
}

func LoadConfig() Config {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse environment", "err", err)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "Loopback port for companion connections")
	flag.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "HTTP relay endpoint")
	flag.IntVar(&cfg.MaxMessagesPerMinute, "rate", cfg.MaxMessagesPerMinute, "Outbound messages-per-minute ceiling")
	flag.StringVar(&cfg.PlayerName, "name", cfg.PlayerName, "Local player name")
	flag.Parse()

	cfg.sanitize()
	return cfg
}

func (c *Config) sanitize() {
	if c.Port < 1024 || c.Port > 65535 {
		c.Port = 25580
	}
	if c.RelayURL == "" {
		c.RelayURL = defaultRelayURL
	}
	if c.RelayTimeout < time.Second || c.RelayTimeout > 30*time.Second {
		c.RelayTimeout = 4 * time.Second
	}
	if c.RelayClientID == "" {
		c.RelayClientID = uuid.NewString()
	}
	if c.MaxMessagesPerMinute < 1 || c.MaxMessagesPerMinute > 600 {
		c.MaxMessagesPerMinute = 45
	}
}
