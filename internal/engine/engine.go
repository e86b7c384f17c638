package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/shelfcast/internal/catalog"
	"github.com/roach88/shelfcast/internal/diff"
	"github.com/roach88/shelfcast/internal/imagecache"
	"github.com/roach88/shelfcast/internal/ir"
)

// DefaultDwell is how long an identified product stays active.
const DefaultDwell = 3 * time.Second

// Catalog is the live Local Catalog. *catalog.Store satisfies it.
//
// The engine never caches what Get or Lookup return across events: every
// read goes through this accessor so it sees the latest merge.
type Catalog interface {
	Get() []ir.Product
	Lookup(barcode string) (ir.Product, bool)
	Merge(ctx context.Context, additions []ir.Product) (catalog.MergeResult, error)
}

// ImageResolver resolves a product's display image. *imagecache.Cache
// satisfies it.
type ImageResolver interface {
	Resolve(ctx context.Context, p ir.Product) imagecache.Resolved
}

// ConnState is the push connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// MarshalText renders the state name in JSON status output.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UpdateReport describes the last applied catalog update.
type UpdateReport struct {
	Seq      int64        `json:"seq"`
	At       time.Time    `json:"at"`
	Received int          `json:"received"`
	Added    []ir.Product `json:"added"`
	// Removed is computed for observability and never applied.
	Removed   []ir.Product `json:"removed"`
	Size      int          `json:"size"`
	Persisted bool         `json:"persisted"`
}

// Engine is the single-writer event stream reconciler.
//
// Every push message, dwell expiry and connection transition is an Event
// processed in FIFO order by Run. Handlers run to completion one at a
// time, so merges never interleave and a new hit cancels the previous
// dwell timer within the same step that sets the new active product.
//
// Thread-safety model:
//   - Enqueue() and the Deliver helpers: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Active(), LastUpdate(), ConnState(), Subscribe(): safe from any goroutine
type Engine struct {
	catalog Catalog
	images  ImageResolver
	timers  Timers
	dwell   time.Duration
	clock   *Clock
	queue   *eventQueue

	// Owned by the Run goroutine.
	gen       uint64
	stopTimer func() bool

	closed  atomic.Bool
	dropped atomic.Int64

	mu         sync.RWMutex
	active     *Active
	lastUpdate *UpdateReport
	conn       ConnState

	subsMu sync.Mutex
	subs   map[int]chan *Active
	nextID int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithDwell sets how long an identified product stays active.
// Default: 3s (DefaultDwell).
func WithDwell(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.dwell = d
		}
	}
}

// WithTimers replaces wall time. Used by tests and the scenario harness.
func WithTimers(t Timers) EngineOption {
	return func(e *Engine) {
		e.timers = t
	}
}

// WithImages sets the image resolver. Without one, the raw image fields of
// the product are used as-is.
func WithImages(r ImageResolver) EngineOption {
	return func(e *Engine) {
		e.images = r
	}
}

// WithClock sets the logical clock.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine reading and merging through cat.
func New(cat Catalog, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog: cat,
		timers:  RealTimers{},
		dwell:   DefaultDwell,
		clock:   NewClock(),
		queue:   newEventQueue(),
		subs:    make(map[int]chan *Active),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Enqueue submits an event for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// DeliverUpdate enqueues an incremental catalog update.
func (e *Engine) DeliverUpdate(payload json.RawMessage) bool {
	return e.Enqueue(Event{Type: EventTypeUpdate, Payload: payload})
}

// DeliverLabel enqueues an identification label.
func (e *Engine) DeliverLabel(payload json.RawMessage) bool {
	return e.Enqueue(Event{Type: EventTypeIdentify, Payload: payload})
}

// DeliverCommercial enqueues a legacy full-product identification.
func (e *Engine) DeliverCommercial(payload json.RawMessage) bool {
	return e.Enqueue(Event{Type: EventTypeCommercial, Payload: payload})
}

// SetConnected enqueues a connection state transition.
func (e *Engine) SetConnected(connected bool) bool {
	if connected {
		return e.Enqueue(Event{Type: EventTypeConnected})
	}
	return e.Enqueue(Event{Type: EventTypeDisconnected})
}

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: On event processing failure, the error is logged with
// the event context and processing continues. A malformed message is
// dropped; it never stops the loop.
//
// On return the dwell timer is stopped, the queue is closed and every
// subscriber channel is closed. No timer callback changes state afterwards.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "dwell", e.dwell)
	defer e.teardown()

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				if IsMalformedError(err) {
					e.dropped.Add(1)
				}
				logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// makes this case fire immediately.
			if e.closed.Load() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Events already queued are processed before Run returns.
func (e *Engine) Stop() {
	e.closed.Store(true)
	e.queue.Close()
}

// Flush blocks until every event enqueued before the call has been
// processed. Returns an error if the engine stops or ctx ends first.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(Event{Type: eventTypeFlush, done: done}) {
		return errors.New("engine stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) teardown() {
	e.closed.Store(true)
	e.queue.Close()
	e.cancelDwell()

	// Release Flush callers whose barrier will never be reached.
	for _, ev := range e.queue.Drain() {
		if ev.done != nil {
			close(ev.done)
		}
	}

	e.mu.Lock()
	e.active = nil
	e.conn = Disconnected
	e.mu.Unlock()

	e.subsMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subsMu.Unlock()
}

// processEvent routes an event to the appropriate handler.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeUpdate:
		return e.processUpdate(ctx, event)
	case EventTypeIdentify:
		return e.processIdentify(ctx, event)
	case EventTypeCommercial:
		return e.processCommercial(ctx, event)
	case EventTypeExpire:
		e.processExpire(event)
		return nil
	case EventTypeConnected:
		e.setConn(Connected)
		return nil
	case EventTypeDisconnected:
		e.setConn(Disconnected)
		e.cancelDwell()
		e.setActive(nil)
		return nil
	case eventTypeFlush:
		close(event.done)
		return nil
	default:
		return &ReconcileError{
			Code:    ErrCodeUnknownEvent,
			Message: fmt.Sprintf("unknown event type: %d", event.Type),
			Event:   event.Type,
		}
	}
}

// processUpdate folds an incremental update into the catalog.
// Only additions are merged; removals are reported and ignored.
func (e *Engine) processUpdate(ctx context.Context, event Event) error {
	products, err := decodeUpdate(event.Payload)
	if err != nil {
		return newMalformedError(event.Type, "update body is not a product array", err)
	}

	d := diff.Realograms(e.catalog.Get(), products)
	report := &UpdateReport{
		Seq:       e.clock.Next(),
		At:        e.timers.Now(),
		Received:  len(products),
		Added:     []ir.Product{},
		Removed:   d.Removed,
		Persisted: true,
	}

	var mergeErr error
	if len(d.Added) > 0 {
		res, err := e.catalog.Merge(ctx, d.Added)
		report.Added = res.Added
		report.Size = res.Size
		if err != nil {
			report.Persisted = false
			mergeErr = &ReconcileError{
				Code:    ErrCodeMergeFailed,
				Message: fmt.Sprintf("%d additions kept in memory only", len(res.Added)),
				Event:   event.Type,
				Err:     err,
			}
		}
	} else {
		report.Size = len(e.catalog.Get())
	}

	e.mu.Lock()
	e.lastUpdate = report
	e.mu.Unlock()

	slog.Info("catalog update applied",
		"seq", report.Seq,
		"received", report.Received,
		"added", len(report.Added),
		"removed_ignored", len(report.Removed),
		"size", report.Size,
	)
	return mergeErr
}

// processIdentify resolves a label against the live catalog.
// A miss is informational and leaves the active product unchanged.
func (e *Engine) processIdentify(ctx context.Context, event Event) error {
	var raw string
	if err := json.Unmarshal(event.Payload, &raw); err != nil {
		return newMalformedError(event.Type, "label is not a string", err)
	}
	label, err := ir.ParseLabel(raw)
	if err != nil {
		return newMalformedError(event.Type, "unparseable label", err)
	}

	p, ok := e.catalog.Lookup(label.Barcode)
	if !ok {
		slog.Info("identification miss", "label", raw, "barcode", label.Barcode)
		return nil
	}

	e.activate(ctx, p, raw)
	return nil
}

// processCommercial handles the legacy full-product event. The catalog
// entry is preferred; an unknown product is shown as pushed.
func (e *Engine) processCommercial(ctx context.Context, event Event) error {
	var pushed ir.Product
	if err := json.Unmarshal(event.Payload, &pushed); err != nil {
		return newMalformedError(event.Type, "commercial is not a product", err)
	}
	if pushed.Barcode == "" {
		return newMalformedError(event.Type, "commercial has no barcode", nil)
	}

	p, ok := e.catalog.Lookup(pushed.Barcode)
	if !ok {
		slog.Debug("commercial not in catalog, showing pushed product", "barcode", pushed.Barcode)
		p = pushed
	}
	e.activate(ctx, p, pushed.Label)
	return nil
}

// activate replaces the active product and re-arms the dwell timer.
// The old timer is stopped and the generation bumped in the same step, so
// an expiry already in flight for the old hit is ignored.
func (e *Engine) activate(ctx context.Context, p ir.Product, label string) {
	e.cancelDwell()
	gen := e.gen

	now := e.timers.Now()
	a := &Active{
		Product:   p,
		Label:     label,
		Image:     e.resolveImage(ctx, p),
		Since:     now,
		ExpiresAt: now.Add(e.dwell),
		Seq:       e.clock.Next(),
	}
	e.setActive(a)

	e.stopTimer = e.timers.AfterFunc(e.dwell, func() {
		if e.closed.Load() {
			return
		}
		e.queue.Enqueue(Event{Type: EventTypeExpire, Generation: gen})
	})

	slog.Info("product active",
		"barcode", p.Barcode,
		"label", label,
		"seq", a.Seq,
		"expires_at", a.ExpiresAt,
	)
}

// processExpire clears the active product if the expiry belongs to the
// current hit.
func (e *Engine) processExpire(event Event) {
	if event.Generation != e.gen {
		slog.Debug("stale expiry ignored", "generation", event.Generation, "current", e.gen)
		return
	}
	e.stopTimer = nil
	e.clock.Next()
	e.setActive(nil)
	slog.Debug("active product cleared", "generation", event.Generation)
}

func (e *Engine) cancelDwell() {
	if e.stopTimer != nil {
		e.stopTimer()
		e.stopTimer = nil
	}
	// Any expiry already queued is now stale.
	e.gen++
}

func (e *Engine) resolveImage(ctx context.Context, p ir.Product) imagecache.Resolved {
	if e.images == nil {
		return imagecache.Resolved{Ref: p.Image}
	}
	return e.images.Resolve(ctx, p)
}

func (e *Engine) setConn(s ConnState) {
	e.mu.Lock()
	prev := e.conn
	e.conn = s
	e.mu.Unlock()
	if prev != s {
		slog.Info("push connection state", "from", prev, "to", s)
	}
}

// ConnState returns the push connection state.
func (e *Engine) ConnState() ConnState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn
}

// Dropped returns how many malformed messages were dropped.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

// Seq returns the seq of the last processed state change.
func (e *Engine) Seq() int64 {
	return e.clock.Current()
}

// LastUpdate returns the report of the last processed catalog update.
func (e *Engine) LastUpdate() (UpdateReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastUpdate == nil {
		return UpdateReport{}, false
	}
	return *e.lastUpdate, true
}

// decodeUpdate accepts only a JSON array of products.
func decodeUpdate(payload json.RawMessage) ([]ir.Product, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("expected JSON array")
	}
	var products []ir.Product
	if err := json.Unmarshal(trimmed, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// logEventError logs event processing errors with the event context.
func logEventError(event Event, err error) {
	level := slog.LevelError
	if IsMalformedError(err) {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "event processing failed",
		"error", err,
		"event_type", event.Type,
		"payload_bytes", len(event.Payload),
	)
}
