package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/opticut/internal/adapters/metrics"
)

func TestMemoryCounter(t *testing.T) {
	m := metrics.NewMemory()
	labels := map[string]string{"type": "1D", "status": "completed"}

	m.Counter("optimization_tasks_total", labels, 1)
	m.Counter("optimization_tasks_total", labels, 2)

	assert.Equal(t, 3.0, m.CounterValue("optimization_tasks_total", labels))
	assert.Equal(t, 0.0, m.CounterValue("optimization_tasks_total",
		map[string]string{"type": "2D", "status": "completed"}))
}

func TestMemoryLabelOrderIrrelevant(t *testing.T) {
	m := metrics.NewMemory()

	m.Counter("c", map[string]string{"a": "1", "b": "2"}, 1)
	// Mismas labels en otro orden de inserción: misma serie.
	assert.Equal(t, 1.0, m.CounterValue("c", map[string]string{"b": "2", "a": "1"}))
}

func TestMemoryGaugeKeepsLast(t *testing.T) {
	m := metrics.NewMemory()

	m.Gauge("pool_utilization", nil, 0.25)
	m.Gauge("pool_utilization", nil, 0.75)

	assert.Equal(t, 0.75, m.GaugeValue("pool_utilization", nil))
}

func TestMemoryObservations(t *testing.T) {
	m := metrics.NewMemory()

	m.Observe("optimization_duration_seconds", nil, 0.5)
	m.Observe("optimization_duration_seconds", nil, 1.5)

	obs := m.Observations("optimization_duration_seconds", nil)
	require.Len(t, obs, 2)
	assert.Equal(t, []float64{0.5, 1.5}, obs)

	// La copia devuelta no expone el slice interno.
	obs[0] = 99
	assert.Equal(t, 0.5, m.Observations("optimization_duration_seconds", nil)[0])
}
