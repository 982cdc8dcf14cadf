package resilience

// ratelimit.go — limitadores de tasa para proteger dependencias externas.
//
// Tres sabores: ventana deslizante (timestamps ordenados), ventana fija
// (contador por ventana) y token bucket (capacidad + recarga, delegado en
// golang.org/x/time/rate, el mismo limiter que usamos contra APIs).

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision es el veredicto de un limitador para una petición.
type Decision struct {
	Allowed    bool           `json:"allowed"`
	Remaining  int            `json:"remaining"`
	ResetAt    time.Time      `json:"resetAt"`
	RetryAfter *time.Duration `json:"retryAfter,omitempty"`
}

// SlidingWindow limita a `limit` peticiones por ventana móvil.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps map[string][]time.Time

	now func() time.Time
}

// NewSlidingWindow crea el limitador de ventana deslizante.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		stamps: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow evalúa una petición de la clave dada.
func (s *SlidingWindow) Allow(key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	// Purgar timestamps fuera de la ventana.
	kept := s.stamps[key][:0]
	for _, ts := range s.stamps[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.stamps[key] = kept

	if len(kept) >= s.limit {
		oldest := kept[0]
		retry := oldest.Add(s.window).Sub(now)
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    oldest.Add(s.window),
			RetryAfter: &retry,
		}
	}

	s.stamps[key] = append(kept, now)
	return Decision{
		Allowed:   true,
		Remaining: s.limit - len(s.stamps[key]),
		ResetAt:   now.Add(s.window),
	}
}

// FixedWindow limita a `limit` peticiones por ventana alineada al reloj.
type FixedWindow struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	counts map[string]*fixedCount

	now func() time.Time
}

type fixedCount struct {
	windowStart time.Time
	count       int
}

// NewFixedWindow crea el limitador de ventana fija.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:  limit,
		window: window,
		counts: make(map[string]*fixedCount),
		now:    time.Now,
	}
}

// Allow evalúa una petición de la clave dada.
func (f *FixedWindow) Allow(key string) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	windowStart := now.Truncate(f.window)

	c := f.counts[key]
	if c == nil || !c.windowStart.Equal(windowStart) {
		c = &fixedCount{windowStart: windowStart}
		f.counts[key] = c
	}

	resetAt := windowStart.Add(f.window)
	if c.count >= f.limit {
		retry := resetAt.Sub(now)
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: &retry}
	}
	c.count++
	return Decision{Allowed: true, Remaining: f.limit - c.count, ResetAt: resetAt}
}

// TokenBucket limita con capacidad + tasa de recarga por clave.
type TokenBucket struct {
	ratePerSec float64
	burst      int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewTokenBucket crea el limitador token bucket.
func NewTokenBucket(ratePerSec float64, burst int) *TokenBucket {
	return &TokenBucket{
		ratePerSec: ratePerSec,
		burst:      burst,
		buckets:    make(map[string]*rate.Limiter),
	}
}

func (t *TokenBucket) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(t.ratePerSec), t.burst)
		t.buckets[key] = lim
	}
	return lim
}

// Allow evalúa una petición de la clave dada.
func (t *TokenBucket) Allow(key string) Decision {
	lim := t.limiter(key)
	now := time.Now()

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		retry := time.Duration(float64(time.Second) / t.ratePerSec)
		return Decision{Allowed: false, ResetAt: now.Add(retry), RetryAfter: &retry}
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		// Sin token disponible ahora mismo: cancelar la reserva y pedir
		// reintento cuando toque la recarga.
		res.CancelAt(now)
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(delay),
			RetryAfter: &delay,
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: int(lim.TokensAt(now)),
		ResetAt:   now,
	}
}
