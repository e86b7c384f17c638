package harness

// Trace event kinds.
const (
	KindBootstrap  = "bootstrap"
	KindUpdate     = "update"
	KindDropped    = "dropped"
	KindMalformed  = "malformed"
	KindActive     = "active"
	KindCleared    = "cleared"
	KindConnection = "connection"
)

// TraceEvent is one observation of the run. Fields not relevant to Kind
// are left empty.
type TraceEvent struct {
	Kind string `json:"kind"`
	// AtMS is the offset from the start of the run in milliseconds.
	AtMS    int64    `json:"at_ms"`
	Barcode string   `json:"barcode,omitempty"`
	Label   string   `json:"label,omitempty"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Size    int      `json:"size,omitempty"`
	State   string   `json:"state,omitempty"`
	Source  string   `json:"source,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Session is the token of the scripted session.
	Session string `json:"session"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// FinalActive is the barcode active at the end of the run, or "".
	FinalActive string `json:"final_active"`
	// FinalCatalog is the barcode order of the Local Catalog at the end.
	FinalCatalog []string `json:"final_catalog"`
	// DurableCatalog is the barcode order of the persisted catalog.
	DurableCatalog []string `json:"durable_catalog"`
	// BootstrapState is the bootstrap state after the initial run.
	BootstrapState string `json:"bootstrap_state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:           true,
		Trace:          []TraceEvent{},
		Errors:         []string{},
		FinalCatalog:   []string{},
		DurableCatalog: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
