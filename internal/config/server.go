package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	MatchAPIURL    string `env:"MATCH_API_URL,required,notEmpty"`
	MatchAPISecret string `env:"MATCH_API_SECRET"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`

	// Guards the /api/sim routes when set.
	AdminAPIKey string `env:"ADMIN_API_KEY"`

	// Empty keeps the final snapshot outbox in memory only.
	PostgresDSN string `env:"POSTGRES_DSN"`

	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL" envDefault:"1s"`
	TeardownDelay     time.Duration `env:"TEARDOWN_DELAY" envDefault:"3s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	MainTick          time.Duration `env:"MAIN_TICK" envDefault:"50ms"`

	// Consecutive unreachable calls before the match service circuit opens;
	// zero disables the breaker.
	BreakerThreshold int           `env:"MATCH_API_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerOpen      time.Duration `env:"MATCH_API_BREAKER_OPEN" envDefault:"15s"`

	LobbyWorld string `env:"LOBBY_WORLD" envDefault:"world"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
