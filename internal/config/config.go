// Package config resolves the kiosk agent configuration.
//
// Sources are applied in order, each overriding the previous one:
// built-in defaults, an optional CUE config file, .env files and
// SHELFCAST_* environment variables. Command-line flags are applied last
// by the CLI.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shelfcast/internal/imagecache"
)

// Config is the resolved agent configuration.
type Config struct {
	BackendURL         string        `json:"backendURL"`
	SocketURL          string        `json:"socketURL"`
	ImageBaseURL       string        `json:"imageBaseURL"`
	FieldID            string        `json:"fieldID,omitempty"`
	DBPath             string        `json:"dbPath"`
	Dwell              time.Duration `json:"dwell"`
	FetchTimeout       time.Duration `json:"fetchTimeout"`
	ReconnectMin       time.Duration `json:"reconnectMin"`
	ReconnectMax       time.Duration `json:"reconnectMax"`
	PreloadConcurrency int           `json:"preloadConcurrency"`
	StatusAddr         string        `json:"statusAddr"`
	LogFormat          string        `json:"logFormat"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		ImageBaseURL:       imagecache.DefaultBaseURL,
		DBPath:             "shelfcast.db",
		Dwell:              3 * time.Second,
		FetchTimeout:       10 * time.Second,
		ReconnectMin:       500 * time.Millisecond,
		ReconnectMax:       30 * time.Second,
		PreloadConcurrency: 4,
		StatusAddr:         "127.0.0.1:8787",
		LogFormat:          "text",
	}
}

// Options selects the optional sources of Load.
type Options struct {
	// File is a CUE config file. Empty skips it.
	File string
	// EnvFiles are .env files read with godotenv. Missing files are
	// skipped. Variables already set in the process environment win.
	EnvFiles []string
	// LookupEnv reads the process environment. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// Load resolves the configuration from defaults, the config file and the
// environment.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		if err := cfg.applyFile(opts.File); err != nil {
			return Config{}, err
		}
	}

	env, err := newEnvSource(opts.EnvFiles, opts.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings needed to run the agent.
func (c Config) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend URL is required (SHELFCAST_BACKEND_URL)"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.Dwell <= 0 {
		errs = append(errs, fmt.Errorf("dwell must be positive, got %s", c.Dwell))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout))
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		errs = append(errs, fmt.Errorf("reconnect backoff must satisfy 0 < min <= max, got %s..%s", c.ReconnectMin, c.ReconnectMax))
	}
	if c.PreloadConcurrency < 1 {
		errs = append(errs, fmt.Errorf("preload concurrency must be at least 1, got %d", c.PreloadConcurrency))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
