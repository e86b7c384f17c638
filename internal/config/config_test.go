package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{LookupEnv: envMap(nil)})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 3*time.Second, cfg.Dwell)
	assert.Error(t, cfg.Validate(), "backend URL has no default")
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(Options{File: "testdata/kiosk.cue", LookupEnv: envMap(nil)})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.BackendURL)
	assert.Equal(t, "wss://push.example.com", cfg.SocketURL)
	assert.Equal(t, "aisle-7", cfg.FieldID)
	assert.Equal(t, "/var/lib/shelfcast/kiosk.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.Dwell)
	assert.Equal(t, 8, cfg.PreloadConcurrency)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Second, cfg.ReconnectMin)
	assert.Equal(t, time.Minute, cfg.ReconnectMax)
	assert.Equal(t, Default().FetchTimeout, cfg.FetchTimeout, "unset keys keep defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileRejectsUnknownKey(t *testing.T) {
	_, err := Load(Options{File: "testdata/unknown_key.cue", LookupEnv: envMap(nil)})
	var fe *FileError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "dwel")
}

func TestLoad_FileRejectsBadValues(t *testing.T) {
	_, err := Load(Options{File: "testdata/bad_values.cue", LookupEnv: envMap(nil)})
	var fe *FileError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "testdata/bad_values.cue", fe.Path)
}

func TestLoad_FileMissing(t *testing.T) {
	_, err := Load(Options{File: "testdata/nope.cue", LookupEnv: envMap(nil)})
	var fe *FileError
	assert.ErrorAs(t, err, &fe)
}

func TestLoad_FileSyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("backendURL: \"unterminated\n"), 0o644))

	_, err := Load(Options{File: path, LookupEnv: envMap(nil)})
	var fe *FileError
	assert.ErrorAs(t, err, &fe)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	cfg, err := Load(Options{
		File: "testdata/kiosk.cue",
		LookupEnv: envMap(map[string]string{
			"SHELFCAST_BACKEND_URL":         "https://override.example.com",
			"SHELFCAST_DWELL":               "2500ms",
			"SHELFCAST_PRELOAD_CONCURRENCY": "2",
			"SHELFCAST_FIELD_ID":            "  aisle-9  ",
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", cfg.BackendURL)
	assert.Equal(t, 2500*time.Millisecond, cfg.Dwell)
	assert.Equal(t, 2, cfg.PreloadConcurrency)
	assert.Equal(t, "aisle-9", cfg.FieldID)
	assert.Equal(t, "wss://push.example.com", cfg.SocketURL, "file value kept")
}

func TestLoad_DotEnv(t *testing.T) {
	cfg, err := Load(Options{
		EnvFiles:  []string{"testdata/missing.env", "testdata/kiosk.env"},
		LookupEnv: envMap(map[string]string{"SHELFCAST_DWELL": "1s"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.BackendURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.StatusAddr)
	assert.Equal(t, time.Second, cfg.Dwell, "process environment beats .env")
}

func TestLoad_BadEnvValues(t *testing.T) {
	_, err := Load(Options{LookupEnv: envMap(map[string]string{
		"SHELFCAST_DWELL":               "soon",
		"SHELFCAST_PRELOAD_CONCURRENCY": "many",
	})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHELFCAST_DWELL")
	assert.Contains(t, err.Error(), "SHELFCAST_PRELOAD_CONCURRENCY")
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.BackendURL = "https://api.example.com"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no backend", func(c *Config) { c.BackendURL = "" }},
		{"zero dwell", func(c *Config) { c.Dwell = 0 }},
		{"inverted backoff", func(c *Config) { c.ReconnectMax = c.ReconnectMin / 2 }},
		{"no concurrency", func(c *Config) { c.PreloadConcurrency = 0 }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"no db", func(c *Config) { c.DBPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
