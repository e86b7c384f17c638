package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %6dms %s%s\n", i+1, ev.AtMS, ev.Kind, describe(ev))
		}
	}
	return buf.String()
}

func describe(ev TraceEvent) string {
	var parts []string
	if ev.Barcode != "" {
		parts = append(parts, "barcode="+ev.Barcode)
	}
	if len(ev.Added) > 0 {
		parts = append(parts, fmt.Sprintf("added=%v", ev.Added))
	}
	if len(ev.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("removed=%v", ev.Removed))
	}
	if ev.State != "" {
		parts = append(parts, "state="+ev.State)
	}
	if ev.Reason != "" {
		parts = append(parts, "reason="+ev.Reason)
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

// EvaluateAssertions checks every assertion against result and returns
// the failures.
func EvaluateAssertions(result *Result, assertions []Assertion) []error {
	var failures []error
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalActive:
		return assertEqual(a.Type, fmt.Sprintf("%q", a.Barcode), fmt.Sprintf("%q", result.FinalActive))
	case AssertFinalCatalog:
		return assertBarcodes(a.Type, a.Barcodes, result.FinalCatalog)
	case AssertDurableCatalog:
		return assertBarcodes(a.Type, a.Barcodes, result.DurableCatalog)
	case AssertBootstrapState:
		return assertEqual(a.Type, a.State, result.BootstrapState)
	}
	return fmt.Errorf("unknown assertion type: %s", a.Type)
}

// matches reports whether ev satisfies the filters set on a. Unset
// filters match anything.
func matches(ev TraceEvent, a Assertion) bool {
	if ev.Kind != a.Kind {
		return false
	}
	if a.Barcode != "" && ev.Barcode != a.Barcode {
		return false
	}
	if a.Barcodes != nil && !equalStrings(ev.Added, a.Barcodes) {
		return false
	}
	if a.State != "" && ev.State != a.State {
		return false
	}
	return true
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Kind + describe(TraceEvent{Barcode: a.Barcode, Added: a.Barcodes, State: a.State}),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d %s event(s)", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d", count),
		Trace:    trace,
	}
}

func assertBarcodes(kind string, want, got []string) error {
	if equalStrings(got, want) {
		return nil
	}
	return &AssertionError{Type: kind, Expected: fmt.Sprintf("%v", want), Actual: fmt.Sprintf("%v", got)}
}

func assertEqual(kind, want, got string) error {
	if want == got {
		return nil
	}
	return &AssertionError{Type: kind, Expected: want, Actual: got}
}
