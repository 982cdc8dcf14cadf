package ml

// feedback.go — log de predicciones y lazo de feedback.
//
// Cada predicción servida se apunta en el PredictionStore; el ground
// truth llega después vía SubmitFeedback y alimenta la comparación
// shadow y los agregados diarios.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/ports"
)

// FeedbackService registra predicciones y su feedback posterior.
type FeedbackService struct {
	store   ports.PredictionStore
	metrics ports.Metrics

	now func() time.Time
}

// NewFeedbackService crea el servicio sobre el store dado.
func NewFeedbackService(store ports.PredictionStore, metrics ports.Metrics) *FeedbackService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &FeedbackService{store: store, metrics: metrics, now: time.Now}
}

// Record apunta una predicción servida y devuelve su id.
func (s *FeedbackService) Record(ctx context.Context, pred ports.Prediction, features ports.Features, executionType string, latency time.Duration) (string, error) {
	rec := &ports.PredictionRecord{
		ID:            pred.PredictionID,
		ModelType:     pred.ModelType,
		ModelVersion:  pred.ModelVersion,
		InputFeatures: features,
		RawPrediction: pred.Value,
		Confidence:    pred.Confidence,
		ExecutionType: executionType,
		Variant:       pred.Variant,
		LatencyMs:     float64(latency) / float64(time.Millisecond),
		CreatedAt:     s.now().UTC(),
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.store.Append(ctx, rec); err != nil {
		return "", fmt.Errorf("ml.Record: %w", err)
	}
	variant := rec.Variant
	if variant == "" {
		variant = "control"
	}
	s.metrics.Counter("ml_predictions_total",
		map[string]string{"model_type": rec.ModelType, "variant": variant, "status": executionType}, 1)
	s.metrics.Observe("ml_prediction_latency_seconds",
		map[string]string{"model_type": rec.ModelType}, latency.Seconds())
	return rec.ID, nil
}

// SubmitFeedback adjunta el resultado real a una predicción. El score
// opcional está en [0, 1].
func (s *FeedbackService) SubmitFeedback(ctx context.Context, predictionID string, actual float64, score *float64) error {
	if score != nil && (*score < 0 || *score > 1) {
		return domain.NewError(domain.CodeValidation,
			fmt.Sprintf("feedback score %.2f out of [0, 1]", *score), nil)
	}
	if err := s.store.AttachFeedback(ctx, predictionID, actual, score); err != nil {
		return fmt.Errorf("ml.SubmitFeedback: %w", err)
	}
	s.metrics.Counter("ml_feedback_total", nil, 1)
	return nil
}

// AggregateDaily delega el resumen diario en el store.
func (s *FeedbackService) AggregateDaily(ctx context.Context, modelType string, day time.Time) (*ports.DailySummary, error) {
	return s.store.AggregateDaily(ctx, modelType, day)
}

// MemoryPredictionStore es el PredictionStore en memoria para despliegues
// sin persistencia y para tests.
type MemoryPredictionStore struct {
	mu      sync.RWMutex
	records map[string]*ports.PredictionRecord
	order   []string
}

// NewMemoryPredictionStore crea el store vacío.
func NewMemoryPredictionStore() *MemoryPredictionStore {
	return &MemoryPredictionStore{records: make(map[string]*ports.PredictionRecord)}
}

func (m *MemoryPredictionStore) Append(ctx context.Context, rec *ports.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *rec
	m.records[rec.ID] = &clone
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *MemoryPredictionStore) AttachFeedback(ctx context.Context, predictionID string, actual float64, score *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[predictionID]
	if !ok {
		return domain.NewError(domain.CodeValidation,
			fmt.Sprintf("prediction %s not found", predictionID), nil)
	}
	now := time.Now().UTC()
	rec.ActualValue = &actual
	rec.FeedbackScore = score
	rec.FeedbackAt = &now
	return nil
}

func (m *MemoryPredictionStore) Labeled(ctx context.Context, modelType string, from, to time.Time) ([]ports.PredictionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.PredictionRecord, 0)
	for _, id := range m.order {
		rec := m.records[id]
		if rec.ModelType != modelType || rec.ActualValue == nil {
			continue
		}
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		out = append(out, *rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryPredictionStore) AggregateDaily(ctx context.Context, modelType string, day time.Time) (*ports.DailySummary, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := &ports.DailySummary{ModelType: modelType, Day: dayStart, MinConfidence: 1}
	var latencyTotal, confTotal, scoreTotal float64
	scored := 0
	for _, id := range m.order {
		rec := m.records[id]
		if rec.ModelType != modelType {
			continue
		}
		if rec.CreatedAt.Before(dayStart) || !rec.CreatedAt.Before(dayEnd) {
			continue
		}
		sum.PredictionCount++
		if rec.ExecutionType == "fallback" {
			sum.FallbackCount++
		}
		latencyTotal += rec.LatencyMs
		if rec.LatencyMs > sum.MaxLatencyMs {
			sum.MaxLatencyMs = rec.LatencyMs
		}
		confTotal += rec.Confidence
		if rec.Confidence < sum.MinConfidence {
			sum.MinConfidence = rec.Confidence
		}
		// El feedback puede llegar con valor real y sin score: cuenta igual.
		if rec.ActualValue != nil || rec.FeedbackScore != nil {
			sum.FeedbackCount++
		}
		if rec.FeedbackScore != nil {
			scored++
			scoreTotal += *rec.FeedbackScore
		}
	}
	if sum.PredictionCount == 0 {
		sum.MinConfidence = 0
		return sum, nil
	}
	sum.AvgLatencyMs = latencyTotal / float64(sum.PredictionCount)
	sum.AvgConfidence = confTotal / float64(sum.PredictionCount)
	if scored > 0 {
		sum.AvgFeedbackScore = scoreTotal / float64(scored)
	}
	return sum, nil
}
