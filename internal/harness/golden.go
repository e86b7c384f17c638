package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/shelfcast/internal/ir"
)

// TraceSnapshot captures the observable outcome of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName   string
	Session        string
	BootstrapState string
	Trace          []TraceEvent
	FinalActive    string
	FinalCatalog   []string
	DurableCatalog []string
}

func snapshotOf(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName:   name,
		Session:        result.Session,
		BootstrapState: result.BootstrapState,
		Trace:          result.Trace,
		FinalActive:    result.FinalActive,
		FinalCatalog:   result.FinalCatalog,
		DurableCatalog: result.DurableCatalog,
	}
}

// toCanonicalMap converts the snapshot to a map[string]any, the only
// object form ir.MarshalCanonical accepts. Empty event fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"kind":  ev.Kind,
			"at_ms": ev.AtMS,
		}
		if ev.Barcode != "" {
			m["barcode"] = ev.Barcode
		}
		if ev.Label != "" {
			m["label"] = ev.Label
		}
		if len(ev.Added) > 0 {
			m["added"] = ev.Added
		}
		if len(ev.Removed) > 0 {
			m["removed"] = ev.Removed
		}
		if ev.Kind == KindUpdate || ev.Kind == KindBootstrap {
			m["size"] = ev.Size
		}
		if ev.State != "" {
			m["state"] = ev.State
		}
		if ev.Source != "" {
			m["source"] = ev.Source
		}
		if ev.Reason != "" {
			m["reason"] = ev.Reason
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name":   s.ScenarioName,
		"session":         s.Session,
		"bootstrap_state": s.BootstrapState,
		"trace":           traceList,
		"final_active":    s.FinalActive,
		"final_catalog":   s.FinalCatalog,
		"durable_catalog": s.DurableCatalog,
	}
}

// MarshalSnapshot renders the canonical JSON snapshot of a result.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snap := snapshotOf(name, result)
	return ir.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. A snapshot mismatch fails t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
