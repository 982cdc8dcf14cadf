package ports

// Metrics es el sink de métricas inyectado. El motor emite los nombres
// canónicos (optimization_tasks_total, pool_utilization...) y el adapter
// decide qué hacer con ellos; el scraping queda fuera del motor.
type Metrics interface {
	// Counter incrementa un contador etiquetado.
	Counter(name string, labels map[string]string, delta float64)

	// Gauge fija el valor actual de un gauge etiquetado.
	Gauge(name string, labels map[string]string, value float64)

	// Observe registra una observación de histograma (segundos, ratios...).
	Observe(name string, labels map[string]string, value float64)
}

// NopMetrics es el sink nulo para cuando no hay métricas configuradas.
type NopMetrics struct{}

func (NopMetrics) Counter(string, map[string]string, float64) {}
func (NopMetrics) Gauge(string, map[string]string, float64)   {}
func (NopMetrics) Observe(string, map[string]string, float64) {}
