package viewer

import (
	"sync"

	"gridcat/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Emitter: the engine's only link to the rendering layer
// ─────────────────────────────────────────────────────────────

// Emitter receives view status changes. The rendering layer implements it;
// the engine never imports anything UI-shaped. Emit is called from worker
// and control goroutines, never while the viewer's lock is held, so an
// implementation may call back into the viewer.
type Emitter interface {
	Emit(event string, data any)
}

// Event topics. Each carries the viewer id so one emitter can serve
// several open viewers.
const (
	EventStatus  = "view:status"
	EventMutated = "view:mutated"
)

// StatusEvent is the payload of EventStatus.
type StatusEvent struct {
	Viewer    string             `json:"viewer"`
	Status    domain.ViewStatus  `json:"status"`
	Result    *domain.PageResult `json:"result,omitempty"` // set when Status == idle
	PageCount int                `json:"pageCount"`
	Cause     string             `json:"cause,omitempty"` // set when Status == error
	Retryable bool               `json:"retryable"`       // timeouts get an explicit retry affordance
}

// MutatedEvent is the payload of EventMutated.
type MutatedEvent struct {
	Viewer string `json:"viewer"`
	Source string `json:"source"`
}

// MockEmitter records emissions for test assertions.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Recorded returns a snapshot of the emissions so far.
func (m *MockEmitter) Recorded() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmittedEvent, len(m.Events))
	copy(out, m.Events)
	return out
}
