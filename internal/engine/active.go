package engine

import (
	"time"

	"github.com/roach88/shelfcast/internal/imagecache"
	"github.com/roach88/shelfcast/internal/ir"
)

// Active is the product currently shown by the kiosk.
type Active struct {
	Product ir.Product `json:"product"`
	// Label is the identification label that selected the product.
	Label     string              `json:"label,omitempty"`
	Image     imagecache.Resolved `json:"image"`
	Since     time.Time           `json:"since"`
	ExpiresAt time.Time           `json:"expiresAt"`
	Seq       int64               `json:"seq"`
}

// subscriberBuffer is the channel capacity of each subscriber. A
// subscriber that falls further behind loses intermediate changes but
// always receives the latest one.
const subscriberBuffer = 8

// Active returns the active product, if any.
func (e *Engine) Active() (Active, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return Active{}, false
	}
	return *e.active, true
}

// Subscribe returns a channel of active-product changes. A nil value means
// the active product was cleared. The channel is closed when the engine
// stops or cancel is called.
func (e *Engine) Subscribe() (<-chan *Active, func()) {
	ch := make(chan *Active, subscriberBuffer)

	e.subsMu.Lock()
	if e.closed.Load() {
		e.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subsMu.Unlock()

	cancel := func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
	return ch, cancel
}

// setActive publishes a new active product. Called only from Run.
func (e *Engine) setActive(a *Active) {
	e.mu.Lock()
	if e.active == nil && a == nil {
		e.mu.Unlock()
		return
	}
	e.active = a
	e.mu.Unlock()

	var snapshot *Active
	if a != nil {
		cp := *a
		snapshot = &cp
	}

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		publish(ch, snapshot)
	}
}

// publish delivers v without blocking, dropping the oldest pending value
// when the subscriber is full.
func publish(ch chan *Active, v *Active) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
