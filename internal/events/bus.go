package events

// bus.go — pub/sub en proceso, fire-and-forget.
//
// publish invoca cada handler del tipo de evento en su propia goroutine: un
// handler que falla (o hace panic) se loggea y no aborta ni al publicador
// ni a sus hermanos. Un ring buffer acotado retiene los últimos eventos
// para introspección. El bus es un recurso construido al arrancar y pasado
// explícitamente; no hay global ambiente.

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tipos de evento canónicos (minúsculas con punto).
const (
	OptimizationStarted   = "optimization.started"
	OptimizationProgress  = "optimization.progress"
	OptimizationCompleted = "optimization.completed"
	OptimizationFailed    = "optimization.failed"
	PlanCreated           = "plan.created"
	PlanApproved          = "plan.approved"
	PlanRejected          = "plan.rejected"
	ProductionStarted     = "production.started"
	ProductionCompleted   = "production.completed"
	StockConsumed         = "stock.consumed"
	StockLowAlert         = "stock.low-alert"
)

// Event es el sobre común de todos los eventos de dominio.
type Event struct {
	EventID       string         `json:"eventId"`
	EventType     string         `json:"eventType"`
	Timestamp     time.Time      `json:"timestamp"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   string         `json:"aggregateId"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Handler procesa un evento. Los errores se loggean y se descartan.
type Handler func(Event) error

// Bus es el dispatcher en proceso.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   int

	ring     []Event
	ringSize int
	ringPos  int
	ringLen  int
	ringMu   sync.Mutex
}

type subscription struct {
	id int
	fn Handler
}

// DefaultRingSize es la retención por defecto del log de eventos.
const DefaultRingSize = 1000

// New crea un bus con el ring buffer indicado (<=0 usa el default).
func New(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Bus{
		handlers: make(map[string][]subscription),
		ring:     make([]Event, ringSize),
		ringSize: ringSize,
	}
}

// Subscribe registra un handler para un tipo de evento y devuelve la
// función de baja. Subscribe/Unsubscribe en runtime no bloquean publish.
func (b *Bus) Subscribe(eventType string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.handlers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish construye el sobre y lo difunde. No bloquea: cada handler corre
// en su goroutine y los errores no se propagan al publicador.
func (b *Bus) Publish(eventType, aggregateType, aggregateID string, payload map[string]any) Event {
	evt := Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
	}
	b.record(evt)

	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[eventType]))
	copy(subs, b.handlers[eventType])
	b.mu.RUnlock()

	for _, s := range subs {
		go b.dispatch(s, evt)
	}
	return evt
}

// PublishAll publica varios eventos conservando el orden por evento.
// El orden entre tipos distintos no está garantizado.
func (b *Bus) PublishAll(events []Event) {
	for _, evt := range events {
		b.Publish(evt.EventType, evt.AggregateType, evt.AggregateID, evt.Payload)
	}
}

func (b *Bus) dispatch(s subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", evt.EventType,
				"event_id", evt.EventID,
				"panic", r,
			)
		}
	}()
	if err := s.fn(evt); err != nil {
		slog.Warn("event handler failed",
			"event_type", evt.EventType,
			"event_id", evt.EventID,
			"err", err,
		)
	}
}

// record guarda el evento en el ring buffer.
func (b *Bus) record(evt Event) {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()
	b.ring[b.ringPos] = evt
	b.ringPos = (b.ringPos + 1) % b.ringSize
	if b.ringLen < b.ringSize {
		b.ringLen++
	}
}

// Recent devuelve los últimos n eventos, del más antiguo al más reciente.
func (b *Bus) Recent(n int) []Event {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()
	if n <= 0 || n > b.ringLen {
		n = b.ringLen
	}
	out := make([]Event, 0, n)
	start := (b.ringPos - n + b.ringSize) % b.ringSize
	for i := 0; i < n; i++ {
		out = append(out, b.ring[(start+i)%b.ringSize])
	}
	return out
}
