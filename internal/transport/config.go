package transport

import "time"

// Config targets one fixed peer. Zero timeouts block indefinitely.
type Config struct {
	Host         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		DialTimeout: 5 * time.Second,
	}
}
