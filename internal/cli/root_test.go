package cli

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with an empty environment and returns
// stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithEnv(t, map[string]string{}, args...)
}

func executeWithEnv(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{
		LookupEnv: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "shelfcast", cmd.Use)
	assert.Contains(t, cmd.Long, "product catalog")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"run"},
		{"catalog", "show"},
		{"catalog", "diff"},
		{"identity", "show"},
		{"identity", "reset"},
		{"scenario"},
	}

	for _, path := range paths {
		t.Run(path[len(path)-1], func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"db", "config", "log-format", "env-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"backend", "socket", "field", "status-addr"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "identity", "show", "--db", ":memory:")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)

	_, err = execute(t, "--log-format", "xml", "identity", "show", "--db", ":memory:")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid log format "xml"`)
}

func TestSetupLogging(t *testing.T) {
	buf := &bytes.Buffer{}
	setupLogging(buf, "json", true)
	defer setupLogging(&bytes.Buffer{}, "text", false)

	slog.Debug("probe")
	assert.Contains(t, buf.String(), `"msg":"probe"`)
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
}
