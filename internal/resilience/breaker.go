package resilience

// breaker.go — circuit breaker para llamadas a dependencias externas
// (predictores, cachés distribuidas). CLOSED → OPEN al superar el umbral
// de error con volumen mínimo; OPEN → HALF_OPEN tras el reset timeout;
// una sonda exitosa en HALF_OPEN cierra el circuito, un fallo lo reabre.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/ports"
)

// State es el estado del breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// BreakerConfig controla umbrales y tiempos del breaker.
type BreakerConfig struct {
	// Timeout es el deadline por llamada envuelta.
	Timeout time.Duration
	// ErrorThresholdPct abre el circuito cuando el % de error lo supera.
	ErrorThresholdPct float64
	// ResetTimeout es cuánto permanece abierto antes de probar HALF_OPEN.
	ResetTimeout time.Duration
	// VolumeThreshold es el mínimo de llamadas antes de evaluar el umbral.
	VolumeThreshold int
}

// DefaultBreakerConfig devuelve los valores de serie.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Timeout:           30 * time.Second,
		ErrorThresholdPct: 50,
		ResetTimeout:      10 * time.Second,
		VolumeThreshold:   5,
	}
}

// Breaker envuelve llamadas externas con corte de circuito.
type Breaker struct {
	name    string
	cfg     BreakerConfig
	metrics ports.Metrics

	mu        sync.Mutex
	state     State
	successes int
	failures  int
	openedAt  time.Time
	// probing evita que más de una llamada sonde en HALF_OPEN.
	probing bool

	now func() time.Time
}

// NewBreaker crea un breaker con nombre (para métricas y logs).
func NewBreaker(name string, cfg BreakerConfig, metrics ports.Metrics) *Breaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ErrorThresholdPct <= 0 {
		cfg.ErrorThresholdPct = 50
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = 5
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Breaker{
		name:    name,
		cfg:     cfg,
		metrics: metrics,
		state:   StateClosed,
		now:     time.Now,
	}
}

// State devuelve el estado actual, promoviendo OPEN → HALF_OPEN si venció
// el reset timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Execute ejecuta fn bajo el breaker con el deadline configurado. Con el
// circuito abierto devuelve ERR_BREAKER_OPEN con pista de reintento.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.stateLocked() {
	case StateOpen:
		retryIn := b.cfg.ResetTimeout - b.now().Sub(b.openedAt)
		b.mu.Unlock()
		return domain.NewError(domain.CodeBreakerOpen,
			fmt.Sprintf("circuit %q open", b.name),
			map[string]any{"retryAfterMs": retryIn.Milliseconds()})
	case StateHalfOpen:
		if b.probing {
			retryIn := b.cfg.ResetTimeout
			b.mu.Unlock()
			return domain.NewError(domain.CodeBreakerOpen,
				fmt.Sprintf("circuit %q half-open, probe in flight", b.name),
				map[string]any{"retryAfterMs": retryIn.Milliseconds()})
		}
		b.probing = true
	}
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	err := fn(callCtx)

	b.record(err == nil)
	return err
}

// record actualiza contadores y evalúa transiciones.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.transition(StateClosed)
		} else {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}

	total := b.successes + b.failures
	if total < b.cfg.VolumeThreshold {
		return
	}
	pct := float64(b.failures) / float64(total) * 100
	if pct >= b.cfg.ErrorThresholdPct {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// transition cambia de estado, resetea contadores y emite la métrica.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	slog.Info("circuit breaker transition",
		"name", b.name,
		"from", string(b.state),
		"to", string(next),
	)
	b.state = next
	b.successes = 0
	b.failures = 0
	b.probing = false

	val := 0.0
	switch next {
	case StateOpen:
		val = 1
	case StateHalfOpen:
		val = 2
	}
	b.metrics.Gauge("circuit_breaker_state", map[string]string{"name": b.name}, val)
}
