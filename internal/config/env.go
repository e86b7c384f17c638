package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SHELFCAST_"

// Environment variable names, without EnvPrefix.
const (
	EnvBackendURL         = "BACKEND_URL"
	EnvSocketURL          = "SOCKET_URL"
	EnvImageBaseURL       = "IMAGE_BASE_URL"
	EnvFieldID            = "FIELD_ID"
	EnvDBPath             = "DB"
	EnvDwell              = "DWELL"
	EnvFetchTimeout       = "FETCH_TIMEOUT"
	EnvReconnectMin       = "RECONNECT_MIN"
	EnvReconnectMax       = "RECONNECT_MAX"
	EnvPreloadConcurrency = "PRELOAD_CONCURRENCY"
	EnvStatusAddr         = "STATUS_ADDR"
	EnvLogFormat          = "LOG_FORMAT"
)

// envSource looks variables up in the process environment first and in
// the parsed .env files second.
type envSource struct {
	lookup func(string) (string, bool)
	dotenv map[string]string
}

func newEnvSource(files []string, lookup func(string) (string, bool)) (*envSource, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	src := &envSource{lookup: lookup, dotenv: map[string]string{}}
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		// Earlier files win, matching godotenv.Load.
		for k, v := range vars {
			if _, seen := src.dotenv[k]; !seen {
				src.dotenv[k] = v
			}
		}
	}
	return src, nil
}

func (s *envSource) get(name string) (string, bool) {
	key := EnvPrefix + name
	if v, ok := s.lookup(key); ok {
		return strings.TrimSpace(v), true
	}
	v, ok := s.dotenv[key]
	return strings.TrimSpace(v), ok
}

func (c *Config) applyEnv(env *envSource) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{EnvBackendURL, &c.BackendURL},
		{EnvSocketURL, &c.SocketURL},
		{EnvImageBaseURL, &c.ImageBaseURL},
		{EnvFieldID, &c.FieldID},
		{EnvDBPath, &c.DBPath},
		{EnvStatusAddr, &c.StatusAddr},
		{EnvLogFormat, &c.LogFormat},
	}
	for _, s := range strs {
		if v, ok := env.get(s.name); ok && v != "" {
			*s.dst = v
		}
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{EnvDwell, &c.Dwell},
		{EnvFetchTimeout, &c.FetchTimeout},
		{EnvReconnectMin, &c.ReconnectMin},
		{EnvReconnectMax, &c.ReconnectMax},
	}
	var errs []error
	for _, d := range durations {
		v, ok := env.get(d.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, d.name, err))
			continue
		}
		*d.dst = parsed
	}

	if v, ok := env.get(EnvPreloadConcurrency); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, EnvPreloadConcurrency, err))
		} else {
			c.PreloadConcurrency = n
		}
	}
	return errors.Join(errs...)
}
