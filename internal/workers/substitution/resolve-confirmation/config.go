// internal/workers/substitution/resolve-confirmation/config.go
package resolveconfirmation

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
