package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// FileError reports an invalid config file.
type FileError struct {
	Path    string
	Message string
}

func (e *FileError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, e.Message)
}

// fileConfig mirrors #Config in schema.cue.
type fileConfig struct {
	BackendURL         string `json:"backendURL"`
	SocketURL          string `json:"socketURL"`
	ImageBaseURL       string `json:"imageBaseURL"`
	FieldID            string `json:"fieldID"`
	DBPath             string `json:"dbPath"`
	Dwell              string `json:"dwell"`
	FetchTimeout       string `json:"fetchTimeout"`
	PreloadConcurrency int    `json:"preloadConcurrency"`
	StatusAddr         string `json:"statusAddr"`
	LogFormat          string `json:"logFormat"`
	Reconnect          struct {
		Min string `json:"min"`
		Max string `json:"max"`
	} `json:"reconnect"`
}

// applyFile overlays the settings of a CUE config file. The file is
// unified with the embedded #Config schema, which is closed: unknown keys
// and out-of-range values are errors.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &FileError{Path: path, Message: err.Error()}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return &FileError{Path: path, Message: errors.Details(err, nil)}
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &FileError{Path: path, Message: errors.Details(err, nil)}
	}

	var fc fileConfig
	if err := unified.Decode(&fc); err != nil {
		return &FileError{Path: path, Message: err.Error()}
	}
	return c.overlay(path, fc)
}

func (c *Config) overlay(path string, fc fileConfig) error {
	setString(&c.BackendURL, fc.BackendURL)
	setString(&c.SocketURL, fc.SocketURL)
	setString(&c.ImageBaseURL, fc.ImageBaseURL)
	setString(&c.FieldID, fc.FieldID)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.StatusAddr, fc.StatusAddr)
	setString(&c.LogFormat, fc.LogFormat)
	if fc.PreloadConcurrency > 0 {
		c.PreloadConcurrency = fc.PreloadConcurrency
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"dwell", fc.Dwell, &c.Dwell},
		{"fetchTimeout", fc.FetchTimeout, &c.FetchTimeout},
		{"reconnect.min", fc.Reconnect.Min, &c.ReconnectMin},
		{"reconnect.max", fc.Reconnect.Max, &c.ReconnectMax},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return &FileError{Path: path, Message: fmt.Sprintf("%s: %v", d.name, err)}
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
