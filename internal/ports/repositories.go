package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// ScenarioRepository persiste el ciclo de vida de los escenarios. El motor
// solo conoce esta interfaz; la implementación concreta vive en adapters.
type ScenarioRepository interface {
	// GetScenario devuelve el escenario o ERR_SCENARIO_NOT_FOUND.
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)

	// UpdateStatus registra la transición de estado (y el error, si lo hay).
	UpdateStatus(ctx context.Context, id string, status domain.ScenarioStatus, errMsg string) error
}

// PlanRepository persiste los planes de corte generados.
type PlanRepository interface {
	// SavePlan persiste un plan completo con su layout.
	SavePlan(ctx context.Context, plan *domain.CuttingPlan) error
}

// PredictionRecord es una entrada del log append-only de predicciones ML.
type PredictionRecord struct {
	ID            string
	ModelType     string
	ModelVersion  string
	InputFeatures map[string]float64
	RawPrediction float64
	Confidence    float64
	// ExecutionType es primary, shadow o fallback.
	ExecutionType string
	// Variant es el brazo de experimento bajo el que se sirvió la
	// predicción; vacío equivale a control.
	Variant       string
	LatencyMs     float64
	CreatedAt     time.Time
	ActualValue   *float64
	FeedbackScore *float64
	FeedbackAt    *time.Time
}

// DailySummary es el agregado nocturno por modelo y día.
type DailySummary struct {
	ModelType        string
	Day              time.Time
	PredictionCount  int
	FallbackCount    int
	AvgLatencyMs     float64
	MaxLatencyMs     float64
	AvgConfidence    float64
	MinConfidence    float64
	FeedbackCount    int
	AvgFeedbackScore float64
}

// PredictionStore es el log append-only de predicciones con feedback.
type PredictionStore interface {
	// Append añade una predicción al log.
	Append(ctx context.Context, rec *PredictionRecord) error

	// AttachFeedback adjunta el ground truth a una predicción existente.
	AttachFeedback(ctx context.Context, predictionID string, actual float64, score *float64) error

	// Labeled devuelve las predicciones con feedback de un modelo dentro
	// de la ventana temporal, en orden de creación.
	Labeled(ctx context.Context, modelType string, from, to time.Time) ([]PredictionRecord, error)

	// AggregateDaily calcula el resumen diario por modelo.
	AggregateDaily(ctx context.Context, modelType string, day time.Time) (*DailySummary, error)
}
