package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/shelfcast/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "missing"
	Errors []string `json:"errors,omitempty"`
}

// ScenarioSummary holds the overall result.
type ScenarioSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// Text renders one line per scenario and a summary.
func (s ScenarioSummary) Text() string {
	if s.Total == 0 {
		return "No scenarios found.\n"
	}
	var b strings.Builder
	for _, r := range s.Scenarios {
		mark := "PASS"
		if !r.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "%s %s", mark, r.Name)
		if r.Golden == "updated" {
			b.WriteString(" (golden updated)")
		}
		b.WriteByte('\n')
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
		}
	}
	fmt.Fprintf(&b, "\nSummary: %d passed, %d failed, %d total\n", s.Passed, s.Failed, s.Total)
	return b.String()
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <scenarios-dir>",
		Short: "Run kiosk scenarios",
		Long: `Run scripted kiosk scenarios against the real catalog and engine.

Each scenario runs on an in-memory database and a manual clock. Its
assertions are checked, and when <scenarios-dir>/golden/<name>.golden
exists the canonical trace must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  shelfcast scenario ./scenarios
  shelfcast scenario ./scenarios --filter "dwell*"
  shelfcast scenario ./scenarios --update
  shelfcast scenario ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runScenarios(opts *ScenarioOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	// Scenario runs log through slog; keep them off stdout.
	setupLogging(cmd.ErrOrStderr(), "text", opts.Verbose)

	summary := ScenarioSummary{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		r := runScenarioFile(file, opts.Update)
		summary.Scenarios = append(summary.Scenarios, r)
		if r.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	f := newFormatter(cmd, opts.RootOptions)
	if summary.Failed > 0 {
		if f.Format == "json" {
			if err := f.encode(CLIResponse{
				Status: "error",
				Data:   summary,
				Error: &CLIError{
					Code:    CodeScenarioFailure,
					Message: fmt.Sprintf("%d scenario(s) failed", summary.Failed),
				},
			}); err != nil {
				return err
			}
		} else if err := f.Success(summary); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}
	return f.Success(summary)
}

// findScenarioFiles lists the YAML files directly in dir, sorted.
func findScenarioFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// runScenarioFile loads, runs and checks one scenario.
func runScenarioFile(file string, update bool) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	res := ScenarioResult{Name: scenario.Name}
	result, err := harness.Run(scenario)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Errors = append(res.Errors, result.Errors...)

	snapshot, err := harness.MarshalSnapshot(scenario.Name, result)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to marshal trace: %v", err))
		return res
	}

	goldenPath := goldenFilePath(file)
	switch {
	case update:
		if err := writeGolden(goldenPath, snapshot); err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res
		}
		res.Golden = "updated"
	default:
		want, err := os.ReadFile(goldenPath)
		switch {
		case os.IsNotExist(err):
			res.Golden = "missing"
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		case !bytes.Equal(want, snapshot):
			res.Errors = append(res.Errors, "trace does not match golden file (run with --update to regenerate)")
		default:
			res.Golden = "match"
		}
	}

	res.Pass = len(res.Errors) == 0
	return res
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}
