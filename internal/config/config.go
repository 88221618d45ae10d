package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full process configuration, sourced from the environment
// with an optional .env file underneath.
type Config struct {
	Addr     string `env:"PALSYNC_ADDR" envDefault:":8080"`
	LogLevel string `env:"PALSYNC_LOG_LEVEL" envDefault:"info"`

	// DataMode selects local-only persistence or dual-write against a
	// remote system of record.
	DataMode string `env:"PALSYNC_DATA_MODE" envDefault:"local"`

	// LocalStoreDSN is memory:// or file://path/to/store.json.
	LocalStoreDSN string `env:"PALSYNC_LOCAL_STORE" envDefault:"file://palsync-store.json"`

	// WatchLocalStore reloads the file store when the backing file is
	// replaced out from under the process.
	WatchLocalStore bool `env:"PALSYNC_WATCH_LOCAL_STORE" envDefault:"false"`

	// RemoteDSN selects the remote repository: postgres://... or
	// https://api.example.com. Required in remote mode.
	RemoteDSN string `env:"PALSYNC_REMOTE_DSN"`

	// RemoteToken is the bearer credential for HTTP remotes. A token
	// embedded in the DSN query takes precedence.
	RemoteToken string `env:"PALSYNC_REMOTE_TOKEN"`

	// CallTimeout bounds each remote delivery attempt.
	CallTimeout time.Duration `env:"PALSYNC_CALL_TIMEOUT" envDefault:"30s"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `env:"PALSYNC_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if c.DataMode == "remote" && c.RemoteDSN == "" {
		return Config{}, fmt.Errorf("config: PALSYNC_REMOTE_DSN is required in remote mode")
	}
	return c, nil
}
