package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestScenarios_Golden(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, scenarios, 4)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/update_merge.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(s.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FailedExpectation(t *testing.T) {
	want := "222"
	s := &Scenario{
		Name:        "wrong_expect",
		Description: "expects a product that is never shown",
		Field:       "aisle-7",
		Remote: RemoteSpec{Products: []ProductSpec{
			{Barcode: "111", Name: "Tea", Price: "2"},
		}},
		Steps: []Step{
			{Push: &PushStep{Type: "productLabel", Label: "111_1"}, Expect: &Expect{Active: &want}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `active = "111", want "222"`)
	assert.Equal(t, "111", result.FinalActive)
}

func TestRun_FailedAssertion(t *testing.T) {
	s := &Scenario{
		Name:        "wrong_catalog",
		Description: "asserts a catalog that does not match",
		Field:       "aisle-7",
		Remote: RemoteSpec{Products: []ProductSpec{
			{Barcode: "111", Name: "Tea"},
		}},
		Assertions: []Assertion{
			{Type: AssertFinalCatalog, Barcodes: []string{"111", "222"}},
			{Type: AssertBootstrapState, State: "ready"},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "final_catalog")
	assert.Equal(t, []string{"111"}, result.FinalCatalog)
	assert.Equal(t, []string{"111"}, result.DurableCatalog)
}

func TestRun_ReassignedField(t *testing.T) {
	s := &Scenario{
		Name:        "reassigned",
		Description: "backend answers under another field",
		Field:       "aisle-7",
		Remote: RemoteSpec{
			FieldName: "aisle-8",
			Products:  []ProductSpec{{Barcode: "111", Name: "Tea"}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	require.NotEmpty(t, result.Trace)
	assert.Equal(t, KindBootstrap, result.Trace[0].Kind)
	assert.Equal(t, "reassigned:aisle-8", result.Trace[0].Reason)
	assert.Equal(t, "ready", result.BootstrapState)
}

func TestRun_DefaultSessionToken(t *testing.T) {
	s := &Scenario{Name: "token", Description: "d", Field: "f"}
	result, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, "test-session-default", result.Session)
	assert.True(t, result.Pass)
}

func TestLoadScenario_RejectsUnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "misspelled key"
field: aisle-7
asertions: []
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asertions")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing field",
			yaml: "name: a\ndescription: b\n",
			want: "field is required",
		},
		{
			name: "decreasing offsets",
			yaml: "name: a\ndescription: b\nfield: f\nsteps:\n  - at: 2s\n  - at: 1s\n",
			want: "before the previous step",
		},
		{
			name: "bad duration",
			yaml: "name: a\ndescription: b\nfield: f\ndwell: soon\n",
			want: "invalid duration",
		},
		{
			name: "bad price",
			yaml: "name: a\ndescription: b\nfield: f\ncache:\n  - { barcode: \"1\", price: \"cheap\" }\n",
			want: "price",
		},
		{
			name: "label missing",
			yaml: "name: a\ndescription: b\nfield: f\nsteps:\n  - at: 0s\n    push: { type: productLabel }\n",
			want: "push.label is required",
		},
		{
			name: "push and connection",
			yaml: "name: a\ndescription: b\nfield: f\nsteps:\n  - at: 0s\n    connection: up\n    push: { type: productLabel, label: x_1 }\n",
			want: "exclusive",
		},
		{
			name: "unknown remote error",
			yaml: "name: a\ndescription: b\nfield: f\nremote: { error: flaky }\n",
			want: "unknown kind",
		},
		{
			name: "unknown assertion",
			yaml: "name: a\ndescription: b\nfield: f\nassertions:\n  - type: trace_order\n",
			want: "unknown assertion type",
		},
		{
			name: "catalog assertion without barcodes",
			yaml: "name: a\ndescription: b\nfield: f\nassertions:\n  - type: final_catalog\n",
			want: "barcodes is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files")
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 cleared event(s)",
		Actual:   "0",
		Trace: []TraceEvent{
			{Kind: KindActive, AtMS: 1500, Barcode: "111", Label: "111_1"},
			{Kind: KindDropped, AtMS: 2000, Reason: "other_channel"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 1 cleared event(s)")
	assert.Contains(t, msg, "1500ms active barcode=111")
	assert.Contains(t, msg, "reason=other_channel")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Kind: KindUpdate, Added: []string{"2"}, Size: 2},
		{Kind: KindActive, Barcode: "2"},
		{Kind: KindCleared},
	}
	result.FinalCatalog = []string{"1", "2"}
	result.BootstrapState = "ready"

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Kind: KindUpdate, Barcodes: []string{"2"}},
		{Type: AssertTraceContains, Kind: KindActive, Barcode: "2"},
		{Type: AssertTraceCount, Kind: KindCleared, Count: 1},
		{Type: AssertFinalActive, Barcode: ""},
		{Type: AssertFinalCatalog, Barcodes: []string{"1", "2"}},
		{Type: AssertBootstrapState, State: "ready"},
	})
	assert.Empty(t, failures)

	failures = EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Kind: KindActive, Barcode: "3"},
		{Type: AssertDurableCatalog, Barcodes: []string{"1"}},
	})
	require.Len(t, failures, 2)
	var ae *AssertionError
	require.ErrorAs(t, failures[0], &ae)
	assert.Equal(t, "not found in trace", ae.Actual)
}

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
