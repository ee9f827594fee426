package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the agent
type Config struct {
	// Server configuration
	Port int `envconfig:"PORT" default:"10100"`

	// Chrome DevTools endpoint and target selection
	CDPURL       string   `envconfig:"CDP_URL" default:"ws://localhost:9222/devtools/browser"`
	HostPatterns []string `envconfig:"HOST_PATTERNS" default:"youtube.com,music.youtube.com"`

	// How long to keep retrying the initial CDP attach before giving up.
	AttachRetries int           `envconfig:"ATTACH_RETRIES" default:"10"`
	AttachDelay   time.Duration `envconfig:"ATTACH_DELAY" default:"2s"`

	// Optional on-disk selector profile overriding the embedded default.
	ProfilePath string `envconfig:"PROFILE_PATH" default:""`

	// Spectrum bar count pushed per audio frame.
	VizBars int `envconfig:"VIZ_BARS" default:"24"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Port <= 0 {
		return fmt.Errorf("PORT must be greater than 0")
	}
	if config.CDPURL == "" {
		return fmt.Errorf("CDP_URL is required")
	}
	if len(config.HostPatterns) == 0 {
		return fmt.Errorf("HOST_PATTERNS is required")
	}
	if config.AttachRetries <= 0 {
		return fmt.Errorf("ATTACH_RETRIES must be greater than 0")
	}
	if config.VizBars <= 0 {
		return fmt.Errorf("VIZ_BARS must be greater than 0")
	}
	return nil
}
