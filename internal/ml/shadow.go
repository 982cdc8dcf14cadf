package ml

// shadow.go — evaluación champion/challenger sobre el log de predicciones.
//
// Se comparan los errores absolutos medios (MAE) de producción y de cada
// modelo shadow sobre predicciones etiquetadas dentro de una ventana
// rodante. La recomendación de promoción exige mejora relativa mínima,
// días de observación suficientes y volumen de muestras etiquetadas.

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/opticut/internal/ports"
)

// Acciones recomendadas por la comparación.
const (
	ActionPromote       = "promote"
	ActionKeepObserving = "keep_observing"
	ActionNoAction      = "no_action"
)

// CompareConfig controla la ventana y los umbrales de promoción.
type CompareConfig struct {
	WindowDays     int     // default 7
	MinImprovement float64 // mejora relativa mínima, default 0.05
	MinDays        int     // días mínimos de observación, default 3
	MinSamples     int     // muestras etiquetadas mínimas, default 100
}

// DefaultCompareConfig devuelve los umbrales de serie.
func DefaultCompareConfig() CompareConfig {
	return CompareConfig{WindowDays: 7, MinImprovement: 0.05, MinDays: 3, MinSamples: 100}
}

// Recommendation es el veredicto de la comparación.
type Recommendation struct {
	Action        string  `json:"action"`
	Reason        string  `json:"reason"`
	ShadowVersion string  `json:"shadowVersion,omitempty"`
	ProductionMAE float64 `json:"productionMae"`
	ShadowMAE     float64 `json:"shadowMae"`
	Improvement   float64 `json:"improvement"`
	SampleCount   int     `json:"sampleCount"`
}

// Comparator evalúa los modelos shadow contra producción.
type Comparator struct {
	store   ports.PredictionStore
	cfg     CompareConfig
	metrics ports.Metrics

	now func() time.Time
}

// NewComparator crea el comparador sobre el log de predicciones.
func NewComparator(store ports.PredictionStore, cfg CompareConfig, metrics ports.Metrics) *Comparator {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.MinImprovement <= 0 {
		cfg.MinImprovement = 0.05
	}
	if cfg.MinDays <= 0 {
		cfg.MinDays = 3
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 100
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Comparator{store: store, cfg: cfg, metrics: metrics, now: time.Now}
}

// Compare calcula la recomendación para un model type.
func (c *Comparator) Compare(ctx context.Context, modelType string) (*Recommendation, error) {
	to := c.now()
	from := to.AddDate(0, 0, -c.cfg.WindowDays)
	records, err := c.store.Labeled(ctx, modelType, from, to)
	if err != nil {
		return nil, fmt.Errorf("ml.Compare: %w", err)
	}

	prod := make([]ports.PredictionRecord, 0, len(records))
	shadows := make(map[string][]ports.PredictionRecord)
	byVersion := make(map[string][]ports.PredictionRecord)
	for _, rec := range records {
		switch rec.ExecutionType {
		case "primary":
			prod = append(prod, rec)
		case "shadow":
			shadows[rec.ModelVersion] = append(shadows[rec.ModelVersion], rec)
		}
		byVersion[rec.ModelVersion] = append(byVersion[rec.ModelVersion], rec)
	}

	// Salud por versión: 1 con MAE cero, decae hacia 0 al crecer el error.
	for version, recs := range byVersion {
		c.metrics.Gauge("ml_model_health",
			map[string]string{"model_type": modelType, "version": version},
			1/(1+meanAbsoluteError(recs)))
	}

	if len(prod) == 0 || len(shadows) == 0 {
		return &Recommendation{
			Action: ActionNoAction,
			Reason: "no labeled production/shadow pairs in window",
		}, nil
	}

	prodMAE := meanAbsoluteError(prod)

	// Mejor shadow: MAE mínimo; empate por versión para determinismo.
	versions := make([]string, 0, len(shadows))
	for v := range shadows {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	bestVersion := ""
	bestMAE := math.Inf(1)
	bestCount := 0
	for _, v := range versions {
		mae := meanAbsoluteError(shadows[v])
		if mae < bestMAE {
			bestMAE = mae
			bestVersion = v
			bestCount = len(shadows[v])
		}
	}

	rec := &Recommendation{
		ShadowVersion: bestVersion,
		ProductionMAE: prodMAE,
		ShadowMAE:     bestMAE,
		SampleCount:   bestCount,
	}
	if prodMAE > 0 {
		rec.Improvement = (prodMAE - bestMAE) / prodMAE
	}

	observedDays := observationDays(shadows[bestVersion])

	switch {
	case rec.Improvement < c.cfg.MinImprovement:
		rec.Action = ActionNoAction
		rec.Reason = fmt.Sprintf("improvement %.1f%% below threshold %.1f%%",
			rec.Improvement*100, c.cfg.MinImprovement*100)
	case observedDays < c.cfg.MinDays:
		rec.Action = ActionKeepObserving
		rec.Reason = fmt.Sprintf("observed %d days, need %d", observedDays, c.cfg.MinDays)
	case bestCount < c.cfg.MinSamples:
		rec.Action = ActionKeepObserving
		rec.Reason = fmt.Sprintf("%d labeled samples, need %d", bestCount, c.cfg.MinSamples)
	default:
		rec.Action = ActionPromote
		rec.Reason = fmt.Sprintf("shadow %s beats production by %.1f%%",
			bestVersion, rec.Improvement*100)
	}
	return rec, nil
}

// meanAbsoluteError calcula el MAE de predicciones etiquetadas.
func meanAbsoluteError(records []ports.PredictionRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range records {
		actual := 0.0
		if r.ActualValue != nil {
			actual = *r.ActualValue
		}
		total += math.Abs(r.RawPrediction - actual)
	}
	return total / float64(len(records))
}

// observationDays devuelve los días naturales cubiertos por las muestras.
func observationDays(records []ports.PredictionRecord) int {
	if len(records) == 0 {
		return 0
	}
	first, last := records[0].CreatedAt, records[0].CreatedAt
	for _, r := range records[1:] {
		if r.CreatedAt.Before(first) {
			first = r.CreatedAt
		}
		if r.CreatedAt.After(last) {
			last = r.CreatedAt
		}
	}
	return int(last.Sub(first).Hours()/24) + 1
}
