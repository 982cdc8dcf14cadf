package cache

// memory.go — caché en memoria por fingerprint, implementación de
// referencia. TTLs en segundos, barrido perezoso + janitor periódico cada
// 60s. GetOrSet garantiza como mucho UNA construcción concurrente por clave
// vía singleflight: los misses concurrentes esperan al builder en vuelo.

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// entry es un valor cacheado con su expiración (cero = sin TTL).
type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Config controla el comportamiento de la caché en memoria.
type Config struct {
	// DefaultTTL se aplica cuando Set recibe ttl 0. Cero = sin expiración.
	DefaultTTL time.Duration
	// KeyPrefix se antepone a todas las claves (aislamiento por despliegue).
	KeyPrefix string
	// CleanupInterval es el periodo del janitor (default 60s).
	CleanupInterval time.Duration
}

// Memory es la caché en memoria. Segura para uso concurrente.
type Memory struct {
	cfg Config

	mu      sync.RWMutex
	data    map[string]entry
	open    bool
	stop    chan struct{}
	started sync.Once

	group singleflight.Group
}

// NewMemory crea la caché y arranca el janitor.
func NewMemory(cfg Config) *Memory {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	m := &Memory{
		cfg:  cfg,
		data: make(map[string]entry),
		open: true,
		stop: make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) key(k string) string {
	if m.cfg.KeyPrefix == "" {
		return k
	}
	return m.cfg.KeyPrefix + ":" + k
}

// Connected informa si la caché acepta operaciones.
func (m *Memory) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open
}

// Disconnect drena y limpia. Operaciones posteriores fallan con
// ERR_CACHE_UNAVAILABLE.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return
	}
	m.open = false
	m.data = make(map[string]entry)
	close(m.stop)
}

func (m *Memory) guard() error {
	if !m.Connected() {
		return fmt.Errorf("cache: %w", domain.ErrCacheUnavailable)
	}
	return nil
}

// Get devuelve el valor o (nil, false) si no existe o expiró.
func (m *Memory) Get(ctx context.Context, k string) (any, bool, error) {
	if err := m.guard(); err != nil {
		return nil, false, err
	}
	now := time.Now()
	m.mu.RLock()
	e, ok := m.data[m.key(k)]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.expired(now) {
		// Barrido perezoso de la entrada caducada.
		m.mu.Lock()
		if cur, still := m.data[m.key(k)]; still && cur.expired(now) {
			delete(m.data, m.key(k))
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set guarda el valor con el TTL dado en segundos (0 usa el default).
func (m *Memory) Set(ctx context.Context, k string, v any, ttlSec int) error {
	if err := m.guard(); err != nil {
		return err
	}
	ttl := time.Duration(ttlSec) * time.Second
	if ttlSec <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	e := entry{value: v}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.data[m.key(k)] = e
	m.mu.Unlock()
	return nil
}

// MGet devuelve los valores de varias claves; las ausentes quedan a nil.
func (m *Memory) MGet(ctx context.Context, keys []string) ([]any, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	out := make([]any, len(keys))
	for i, k := range keys {
		v, ok, err := m.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = v
		}
	}
	return out, nil
}

// MSet guarda varios pares clave/valor con un TTL común.
func (m *Memory) MSet(ctx context.Context, kv map[string]any, ttlSec int) error {
	for k, v := range kv {
		if err := m.Set(ctx, k, v, ttlSec); err != nil {
			return err
		}
	}
	return nil
}

// Del elimina una clave. Devuelve true si existía.
func (m *Memory) Del(ctx context.Context, k string) (bool, error) {
	if err := m.guard(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[m.key(k)]
	delete(m.data, m.key(k))
	return ok, nil
}

// DelPattern elimina las claves que casan con el patrón glob (sintaxis de
// path.Match sobre la clave sin prefijo). Devuelve cuántas eliminó.
func (m *Memory) DelPattern(ctx context.Context, pattern string) (int, error) {
	if err := m.guard(); err != nil {
		return 0, err
	}
	full := m.key(pattern)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		ok, err := path.Match(full, k)
		if err != nil {
			return n, fmt.Errorf("cache.DelPattern: bad pattern %q: %w", pattern, err)
		}
		if ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// Exists comprueba existencia sin tocar el TTL.
func (m *Memory) Exists(ctx context.Context, k string) (bool, error) {
	_, ok, err := m.Get(ctx, k)
	return ok, err
}

// TTL devuelve los segundos restantes: -1 sin expiración, -2 si no existe.
func (m *Memory) TTL(ctx context.Context, k string) (int, error) {
	if err := m.guard(); err != nil {
		return 0, err
	}
	now := time.Now()
	m.mu.RLock()
	e, ok := m.data[m.key(k)]
	m.mu.RUnlock()
	if !ok || e.expired(now) {
		return -2, nil
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return int(e.expiresAt.Sub(now).Seconds()), nil
}

// Incr incrementa un contador entero (creándolo a 0 si no existe) y
// devuelve el nuevo valor.
func (m *Memory) Incr(ctx context.Context, k string) (int64, error) {
	if err := m.guard(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.data[m.key(k)]
	cur, _ := e.value.(int64)
	if e.expired(time.Now()) {
		cur = 0
		e.expiresAt = time.Time{}
	}
	cur++
	e.value = cur
	m.data[m.key(k)] = e
	return cur, nil
}

// Expire fija un TTL nuevo sobre una clave existente.
func (m *Memory) Expire(ctx context.Context, k string, ttlSec int) (bool, error) {
	if err := m.guard(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[m.key(k)]
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	if ttlSec <= 0 {
		e.expiresAt = time.Time{}
	} else {
		e.expiresAt = time.Now().Add(time.Duration(ttlSec) * time.Second)
	}
	m.data[m.key(k)] = e
	return true, nil
}

// GetOrSet devuelve el valor cacheado o construye uno con factory. Misses
// concurrentes de la misma clave comparten UNA única ejecución de factory.
func (m *Memory) GetOrSet(ctx context.Context, k string, ttlSec int, factory func(ctx context.Context) (any, error)) (any, error) {
	if v, ok, err := m.Get(ctx, k); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	v, err, shared := m.group.Do(m.key(k), func() (any, error) {
		// Doble comprobación: otro vuelo pudo poblar la clave entretanto.
		if v, ok, err := m.Get(ctx, k); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
		built, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.Set(ctx, k, built, ttlSec); err != nil {
			return nil, err
		}
		return built, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache.GetOrSet %q: %w", k, err)
	}
	if shared {
		slog.Debug("cache build shared", "key", k)
	}
	return v, nil
}

// janitor barre periódicamente las entradas caducadas.
func (m *Memory) janitor() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for k, e := range m.data {
				if e.expired(now) {
					delete(m.data, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
