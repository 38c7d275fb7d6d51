package peer

import "time"

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
}

// Config describes one remote peer.
type Config struct {
	Host           string        `toml:"host"`
	Port           int           `toml:"port"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	// MaxAttempts stops reconnecting after that many consecutive failures.
	// Zero retries forever.
	MaxAttempts int           `toml:"max_attempts"`
	Backoff     BackoffConfig `toml:"backoff"`
}

const DefaultPort = 7911

func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           DefaultPort,
		ConnectTimeout: 5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}
