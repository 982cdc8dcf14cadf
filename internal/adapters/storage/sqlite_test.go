package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/opticut/internal/adapters/storage"
	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/ml"
	"github.com/alejandrodnm/opticut/internal/ports"
)

func newDB(t *testing.T) *storage.SQLite {
	t.Helper()
	db, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestScenarioRoundtrip(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	sc := &domain.Scenario{
		JobID:     "job-7",
		TenantID:  "acme",
		Algorithm: "2D_GUILLOTINE",
		Pieces: []domain.Piece{
			{ID: "a", Width: 60, Height: 40, Quantity: 2, CanRotate: true},
		},
		Stocks:          []domain.Stock{{ID: "S", Width: 100, Height: 100, Available: 3}},
		Options:         domain.Options{Kerf: 2, AllowRotation: true},
		ShadowAlgorithm: "2D_BOTTOM_LEFT",
	}
	require.NoError(t, db.CreateScenario(ctx, sc))
	require.NotEmpty(t, sc.ID)

	got, err := db.GetScenario(ctx, sc.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ScenarioPending, got.Status)
	assert.Equal(t, "job-7", got.JobID)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "2D_GUILLOTINE", got.Algorithm)
	assert.Equal(t, "2D_BOTTOM_LEFT", got.ShadowAlgorithm)
	assert.Equal(t, sc.Pieces, got.Pieces)
	assert.Equal(t, sc.Stocks, got.Stocks)
	assert.Equal(t, sc.Options, got.Options)
}

func TestScenarioNotFound(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	_, err := db.GetScenario(ctx, "ghost")
	require.Error(t, err)
	assert.Equal(t, domain.CodeScenarioNotFound, domain.CodeOf(err))

	err = db.UpdateStatus(ctx, "ghost", domain.ScenarioRunning, "")
	require.Error(t, err)
	assert.Equal(t, domain.CodeScenarioNotFound, domain.CodeOf(err))
}

func TestScenarioStatusTransitions(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	sc := &domain.Scenario{
		Algorithm: "1D_FFD",
		Pieces:    []domain.Piece{{ID: "p", Width: 300, Quantity: 1}},
		Stocks:    []domain.Stock{{ID: "B", Width: 1000, Available: 1}},
	}
	require.NoError(t, db.CreateScenario(ctx, sc))

	require.NoError(t, db.UpdateStatus(ctx, sc.ID, domain.ScenarioRunning, ""))
	got, err := db.GetScenario(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScenarioRunning, got.Status)

	require.NoError(t, db.UpdateStatus(ctx, sc.ID, domain.ScenarioFailed, "strategy panic"))
	got, err = db.GetScenario(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScenarioFailed, got.Status)
	assert.Equal(t, "strategy panic", got.Error)
}

func TestPlanRoundtrip(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	plan := &domain.CuttingPlan{
		ScenarioID: "scn-1",
		Algorithm:  "1D_FFD",
		Result: &domain.OptimizationResult{
			Success:        true,
			StockUsedCount: 1,
			Sheets: []domain.SheetLayout{{
				StockID: "B",
				Width:   1000,
				Placements: []domain.Placement{
					{PieceID: "p#0", X: 0, Width: 300},
				},
			}},
			Statistics: domain.Statistics{Efficiency: 30},
		},
	}
	require.NoError(t, db.SavePlan(ctx, plan))
	require.NotEmpty(t, plan.ID)

	got, err := db.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "scn-1", got.ScenarioID)
	assert.Equal(t, "1D_FFD", got.Algorithm)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Success)
	require.Len(t, got.Result.Sheets, 1)
	assert.Equal(t, "p#0", got.Result.Sheets[0].Placements[0].PieceID)
	assert.InDelta(t, 30.0, got.Result.Statistics.Efficiency, 1e-9)
}

func TestPredictionLogRoundtrip(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	now := time.Now().UTC()

	rec := &ports.PredictionRecord{
		ModelType:     "waste_prediction",
		ModelVersion:  "v2",
		InputFeatures: map[string]float64{"pieceCount": 3},
		RawPrediction: 12.5,
		Confidence:    0.8,
		ExecutionType: "shadow",
		Variant:       "variant",
		LatencyMs:     42,
		CreatedAt:     now,
	}
	require.NoError(t, db.Append(ctx, rec))
	require.NotEmpty(t, rec.ID)

	// Sin feedback aún no aparece como etiquetada.
	labeled, err := db.Labeled(ctx, "waste_prediction", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, labeled)

	score := 0.75
	require.NoError(t, db.AttachFeedback(ctx, rec.ID, 11.0, &score))

	labeled, err = db.Labeled(ctx, "waste_prediction", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, labeled, 1)
	got := labeled[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "v2", got.ModelVersion)
	assert.Equal(t, "shadow", got.ExecutionType)
	assert.Equal(t, "variant", got.Variant)
	assert.InDelta(t, 12.5, got.RawPrediction, 1e-9)
	assert.InDelta(t, 3.0, got.InputFeatures["pieceCount"], 1e-9)
	require.NotNil(t, got.ActualValue)
	assert.InDelta(t, 11.0, *got.ActualValue, 1e-9)
	require.NotNil(t, got.FeedbackScore)
	assert.InDelta(t, 0.75, *got.FeedbackScore, 1e-9)
	require.NotNil(t, got.FeedbackAt)
}

func TestAttachFeedbackUnknownPrediction(t *testing.T) {
	db := newDB(t)

	err := db.AttachFeedback(context.Background(), "missing", 10, nil)
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestLabeledOrderedAndWindowed(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	now := time.Now().UTC()

	ids := []string{"late", "early", "outside"}
	stamps := []time.Time{now, now.Add(-2 * time.Hour), now.Add(-48 * time.Hour)}
	for i, id := range ids {
		require.NoError(t, db.Append(ctx, &ports.PredictionRecord{
			ID:            id,
			ModelType:     "waste_prediction",
			ExecutionType: "primary",
			RawPrediction: float64(i),
			CreatedAt:     stamps[i],
		}))
		require.NoError(t, db.AttachFeedback(ctx, id, float64(i), nil))
	}

	labeled, err := db.Labeled(ctx, "waste_prediction", now.Add(-3*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, labeled, 2)
	// Orden por fecha de creación ascendente; la de hace 48h queda fuera.
	assert.Equal(t, "early", labeled[0].ID)
	assert.Equal(t, "late", labeled[1].ID)
}

func TestAggregateDaily(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	records := []ports.PredictionRecord{
		{ID: "a", ModelType: "waste_prediction", Confidence: 0.9,
			ExecutionType: "primary", LatencyMs: 10, CreatedAt: day.Add(2 * time.Hour)},
		{ID: "b", ModelType: "waste_prediction", Confidence: 0.5,
			ExecutionType: "fallback", LatencyMs: 30, CreatedAt: day.Add(5 * time.Hour)},
		{ID: "c", ModelType: "waste_prediction", Confidence: 0.7,
			ExecutionType: "primary", LatencyMs: 99, CreatedAt: day.Add(26 * time.Hour)},
	}
	for i := range records {
		require.NoError(t, db.Append(ctx, &records[i]))
	}
	score := 0.8
	require.NoError(t, db.AttachFeedback(ctx, "a", 12, &score))
	// Feedback con valor real y sin score: cuenta como feedback igual.
	require.NoError(t, db.AttachFeedback(ctx, "b", 15, nil))

	sum, err := db.AggregateDaily(ctx, "waste_prediction", day.Add(6*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.PredictionCount)
	assert.Equal(t, 1, sum.FallbackCount)
	assert.InDelta(t, 20.0, sum.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 30.0, sum.MaxLatencyMs, 1e-9)
	assert.InDelta(t, 0.7, sum.AvgConfidence, 1e-9)
	assert.InDelta(t, 0.5, sum.MinConfidence, 1e-9)
	assert.Equal(t, 2, sum.FeedbackCount)
	// AVG(feedback_score) ignora los NULL.
	assert.InDelta(t, 0.8, sum.AvgFeedbackScore, 1e-9)
}

func TestExperimentsListActive(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	lastWeek := time.Now().UTC().Add(-7 * 24 * time.Hour)

	active := &ml.Experiment{
		ModelType:             "algorithm_selection",
		ScopeType:             ml.ScopeGlobal,
		ControlModelID:        "selector-v1",
		VariantModelID:        "selector-v2",
		AllocationBasisPoints: 2500,
		Salt:                  "s1",
		StartDate:             yesterday,
	}
	require.NoError(t, db.CreateExperiment(ctx, active))
	require.NotEmpty(t, active.ID)

	// Pausado: no sale en el listado.
	require.NoError(t, db.CreateExperiment(ctx, &ml.Experiment{
		ModelType: "algorithm_selection",
		ScopeType: ml.ScopeGlobal,
		StartDate: yesterday,
		Status:    "paused",
	}))
	// Ventana vencida: tampoco.
	require.NoError(t, db.CreateExperiment(ctx, &ml.Experiment{
		ModelType: "algorithm_selection",
		ScopeType: ml.ScopeGlobal,
		StartDate: lastWeek,
		EndDate:   &yesterday,
	}))
	// Aún no arranca: tampoco.
	future := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, db.CreateExperiment(ctx, &ml.Experiment{
		ModelType: "algorithm_selection",
		ScopeType: ml.ScopeGlobal,
		StartDate: future,
	}))

	got, err := db.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
	assert.Equal(t, "algorithm_selection", got[0].ModelType)
	assert.Equal(t, ml.ScopeGlobal, got[0].ScopeType)
	assert.Equal(t, "selector-v1", got[0].ControlModelID)
	assert.Equal(t, "selector-v2", got[0].VariantModelID)
	assert.Equal(t, 2500, got[0].AllocationBasisPoints)
	assert.Equal(t, "s1", got[0].Salt)
}
