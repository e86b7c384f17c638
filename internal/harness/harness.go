package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shelfcast/internal/bootstrap"
	"github.com/roach88/shelfcast/internal/catalog"
	"github.com/roach88/shelfcast/internal/engine"
	"github.com/roach88/shelfcast/internal/ir"
	"github.com/roach88/shelfcast/internal/push"
	"github.com/roach88/shelfcast/internal/remote"
	"github.com/roach88/shelfcast/internal/store"
	"github.com/roach88/shelfcast/internal/testutil"
)

// scriptedRemote answers the bootstrap fetch from the scenario.
type scriptedRemote struct {
	script RemoteSpec
}

func (r scriptedRemote) FetchCatalog(_ context.Context, field string) (remote.CatalogResponse, error) {
	switch r.script.Error {
	case RemoteRejected:
		return remote.CatalogResponse{}, &remote.StatusError{Op: "fetch catalog", StatusCode: 404, Body: "unknown field " + field}
	case RemoteUnavailable:
		return remote.CatalogResponse{}, &remote.StatusError{Op: "fetch catalog", StatusCode: 503, Body: "unavailable"}
	}
	products, err := productsFromSpecs(r.script.Products)
	if err != nil {
		return remote.CatalogResponse{}, err
	}
	return remote.CatalogResponse{Products: products, FieldName: r.script.FieldName}, nil
}

// Harness holds the components of one scenario run.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	catalog  *catalog.Store
	engine   *engine.Engine
	clock    *testutil.ManualClock
	subs     <-chan *engine.Active

	lastUpdate  int64
	lastDropped int64
	result      *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database with a manual
// clock starting at testutil.Epoch, so the same scenario always yields
// the same trace.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if len(scenario.Cache) > 0 {
		cached, err := productsFromSpecs(scenario.Cache)
		if err != nil {
			return nil, err
		}
		if _, err := st.SaveCatalog(ctx, scenario.Field, cached); err != nil {
			return nil, fmt.Errorf("failed to seed cache: %w", err)
		}
	}

	clock := testutil.NewManualClock(time.Time{})
	cat := catalog.New(scenario.Field, st)
	eng := engine.New(cat, engine.WithTimers(clock), engine.WithDwell(scenario.Dwell.Std()))
	subs, cancelSubs := eng.Subscribe()
	defer cancelSubs()

	h := &Harness{
		scenario: scenario,
		store:    st,
		catalog:  cat,
		engine:   eng,
		clock:    clock,
		subs:     subs,
		result:   NewResult(),
	}

	h.result.Session = testutil.NewFixedTokenGenerator(scenario.SessionToken).Generate()

	if err := h.bootstrap(ctx); err != nil {
		return nil, err
	}

	if h.result.BootstrapState == bootstrap.StateReady.String() {
		if err := h.replay(ctx); err != nil {
			return nil, err
		}
	}

	snap, err := st.LoadCatalog(ctx, scenario.Field)
	if err != nil {
		return nil, fmt.Errorf("failed to read durable catalog: %w", err)
	}
	h.result.DurableCatalog = ir.Barcodes(snap.Products)
	h.result.FinalCatalog = ir.Barcodes(cat.Get())

	for _, failure := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(failure.Error())
	}
	return h.result, nil
}

func (h *Harness) bootstrap(ctx context.Context) error {
	out, err := bootstrap.New(h.store, scriptedRemote{h.scenario.Remote}).Run(ctx, h.scenario.Field, h.catalog)
	ev := TraceEvent{
		Kind:    KindBootstrap,
		AtMS:    h.offsetMS(),
		Added:   ir.Barcodes(out.Added),
		Removed: ir.Barcodes(out.Removed),
		Size:    h.catalog.Len(),
		State:   out.State.String(),
		Source:  string(out.Source),
	}
	switch {
	case errors.Is(err, remote.ErrIdentityRejected):
		ev.Reason = "identity_rejected"
	case err != nil:
		return fmt.Errorf("bootstrap: %w", err)
	case out.FetchErr != nil:
		ev.Reason = "fetch_failed"
	case out.AdoptedField != "":
		ev.Reason = "reassigned:" + out.AdoptedField
	}
	h.result.record(ev)
	h.result.BootstrapState = out.State.String()
	return nil
}

// replay runs the engine over the scripted steps.
func (h *Harness) replay(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(runCtx) }()

	err := h.runSteps(runCtx)

	// The final active product is read before teardown clears it.
	if a, ok := h.engine.Active(); ok {
		h.result.FinalActive = a.Product.Barcode
	}
	h.engine.Stop()
	<-done
	return err
}

func (h *Harness) runSteps(ctx context.Context) error {
	for i, step := range h.scenario.Steps {
		if err := h.advanceTo(ctx, step.At.Std()); err != nil {
			return err
		}
		if err := h.apply(step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := h.settle(ctx); err != nil {
			return err
		}
		if step.Expect != nil {
			h.check(i, *step.Expect)
		}
	}
	if h.scenario.Until > 0 {
		return h.advanceTo(ctx, h.scenario.Until.Std())
	}
	return nil
}

// advanceTo moves the clock to offset, stopping at every due timer so
// each expiry is processed and traced at its own deadline.
func (h *Harness) advanceTo(ctx context.Context, offset time.Duration) error {
	target := testutil.Epoch.Add(offset)
	for {
		next, ok := h.clock.NextDeadline()
		if !ok || next.After(target) {
			break
		}
		h.clock.Set(next)
		if err := h.settle(ctx); err != nil {
			return err
		}
	}
	h.clock.Set(target)
	return nil
}

func (h *Harness) apply(step Step) error {
	switch {
	case step.Connection != "":
		h.engine.SetConnected(step.Connection == "up")
		h.result.record(TraceEvent{Kind: KindConnection, AtMS: h.offsetMS(), State: step.Connection})
	case step.Push != nil:
		env, err := envelope(step.Push)
		if err != nil {
			return err
		}
		if delivered, _ := push.Route(h.engine, h.scenario.Field, env); !delivered {
			reason := "unknown_type"
			if env.Channel != "" && env.Channel != h.scenario.Field {
				reason = "other_channel"
			}
			h.result.record(TraceEvent{Kind: KindDropped, AtMS: h.offsetMS(), Reason: reason})
		}
	}
	return nil
}

// settle waits for the engine to drain its queue and records what changed.
func (h *Harness) settle(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.engine.Flush(flushCtx); err != nil {
		return fmt.Errorf("engine flush: %w", err)
	}
	h.observe()
	return nil
}

func (h *Harness) observe() {
	at := h.offsetMS()

	if dropped := h.engine.Dropped(); dropped > h.lastDropped {
		for n := h.lastDropped; n < dropped; n++ {
			h.result.record(TraceEvent{Kind: KindMalformed, AtMS: at})
		}
		h.lastDropped = dropped
	}

	if report, ok := h.engine.LastUpdate(); ok && report.Seq > h.lastUpdate {
		h.lastUpdate = report.Seq
		h.result.record(TraceEvent{
			Kind:    KindUpdate,
			AtMS:    at,
			Added:   ir.Barcodes(report.Added),
			Removed: ir.Barcodes(report.Removed),
			Size:    report.Size,
		})
	}

	for {
		select {
		case a, ok := <-h.subs:
			if !ok {
				return
			}
			if a == nil {
				h.result.record(TraceEvent{Kind: KindCleared, AtMS: at})
				continue
			}
			h.result.record(TraceEvent{
				Kind:    KindActive,
				AtMS:    a.Since.Sub(testutil.Epoch).Milliseconds(),
				Barcode: a.Product.Barcode,
				Label:   a.Label,
			})
		default:
			return
		}
	}
}

func (h *Harness) check(i int, want Expect) {
	if want.Active != nil {
		got := ""
		if a, ok := h.engine.Active(); ok {
			got = a.Product.Barcode
		}
		if got != *want.Active {
			h.result.AddError(fmt.Sprintf("step %d (at %dms): active = %q, want %q", i, h.offsetMS(), got, *want.Active))
		}
	}
	if want.Catalog != nil {
		got := ir.Barcodes(h.catalog.Get())
		if !equalStrings(got, want.Catalog) {
			h.result.AddError(fmt.Sprintf("step %d (at %dms): catalog = %v, want %v", i, h.offsetMS(), got, want.Catalog))
		}
	}
}

func (h *Harness) offsetMS() int64 {
	return h.clock.Now().Sub(testutil.Epoch).Milliseconds()
}

// envelope builds the push envelope of a step.
func envelope(p *PushStep) (push.Envelope, error) {
	env := push.Envelope{Channel: p.Channel, Type: p.Type}
	if p.Raw != "" {
		env.Data = json.RawMessage(p.Raw)
		return env, nil
	}

	var payload any
	switch p.Type {
	case push.TypeRealogram:
		products, err := productsFromSpecs(p.Products)
		if err != nil {
			return env, err
		}
		payload = products
	case push.TypeProductLabel:
		payload = p.Label
	case push.TypeCommercial:
		product, err := p.Product.Product()
		if err != nil {
			return env, err
		}
		payload = product
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Data = data
	return env, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
