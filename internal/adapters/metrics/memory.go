package metrics

// memory.go — sink de métricas en memoria. Acumula contadores, gauges y
// observaciones por nombre+labels; pensado para inspección en tests y para
// exponer snapshots por el canal que toque (fuera del motor).

import (
	"sort"
	"strings"
	"sync"

	"github.com/alejandrodnm/opticut/internal/ports"
)

// Memory implementa ports.Metrics acumulando en mapas concurrentes.
type Memory struct {
	mu       sync.RWMutex
	counters map[string]float64
	gauges   map[string]float64
	observed map[string][]float64
}

var _ ports.Metrics = (*Memory)(nil)

// NewMemory crea el sink vacío.
func NewMemory() *Memory {
	return &Memory{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		observed: make(map[string][]float64),
	}
}

func (m *Memory) Counter(name string, labels map[string]string, delta float64) {
	k := key(name, labels)
	m.mu.Lock()
	m.counters[k] += delta
	m.mu.Unlock()
}

func (m *Memory) Gauge(name string, labels map[string]string, value float64) {
	k := key(name, labels)
	m.mu.Lock()
	m.gauges[k] = value
	m.mu.Unlock()
}

func (m *Memory) Observe(name string, labels map[string]string, value float64) {
	k := key(name, labels)
	m.mu.Lock()
	m.observed[k] = append(m.observed[k], value)
	m.mu.Unlock()
}

// CounterValue devuelve el valor acumulado de un contador.
func (m *Memory) CounterValue(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[key(name, labels)]
}

// GaugeValue devuelve el último valor de un gauge.
func (m *Memory) GaugeValue(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[key(name, labels)]
}

// Observations devuelve las observaciones registradas de un histograma.
func (m *Memory) Observations(name string, labels map[string]string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obs := m.observed[key(name, labels)]
	out := make([]float64, len(obs))
	copy(out, obs)
	return out
}

// key serializa nombre+labels con labels ordenadas para que el mismo
// conjunto produzca siempre la misma clave.
func key(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	sb.WriteByte('}')
	return sb.String()
}
