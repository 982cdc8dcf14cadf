package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/opticut/internal/adapters/metrics"
	"github.com/alejandrodnm/opticut/internal/cache"
	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/events"
	"github.com/alejandrodnm/opticut/internal/jobs"
	"github.com/alejandrodnm/opticut/internal/ml"
	"github.com/alejandrodnm/opticut/internal/optimizer"
	"github.com/alejandrodnm/opticut/internal/pool"
	"github.com/alejandrodnm/opticut/internal/ports"
)

// --- mocks ---

type mockScenarioRepo struct {
	mu          sync.Mutex
	scenarios   map[string]*domain.Scenario
	transitions []domain.ScenarioStatus
}

func newMockScenarioRepo(scs ...*domain.Scenario) *mockScenarioRepo {
	m := &mockScenarioRepo{scenarios: make(map[string]*domain.Scenario)}
	for _, sc := range scs {
		m.scenarios[sc.ID] = sc
	}
	return m
}

func (m *mockScenarioRepo) GetScenario(_ context.Context, id string) (*domain.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenarios[id]
	if !ok {
		return nil, domain.ErrScenarioNotFound
	}
	clone := *sc
	return &clone, nil
}

func (m *mockScenarioRepo) UpdateStatus(_ context.Context, id string, status domain.ScenarioStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenarios[id]
	if !ok {
		return domain.ErrScenarioNotFound
	}
	sc.Status = status
	sc.Error = errMsg
	m.transitions = append(m.transitions, status)
	return nil
}

func (m *mockScenarioRepo) history() []domain.ScenarioStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ScenarioStatus, len(m.transitions))
	copy(out, m.transitions)
	return out
}

func (m *mockScenarioRepo) status(id string) domain.ScenarioStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scenarios[id].Status
}

type mockPlanRepo struct {
	mu    sync.Mutex
	plans []*domain.CuttingPlan
}

func (m *mockPlanRepo) SavePlan(_ context.Context, plan *domain.CuttingPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append(m.plans, plan)
	return nil
}

func (m *mockPlanRepo) saved() []*domain.CuttingPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.CuttingPlan(nil), m.plans...)
}

type mockPredictor struct {
	selection ports.Prediction
	err       error
}

func (p *mockPredictor) SelectAlgorithm(context.Context, ports.Features) (ports.Prediction, error) {
	return p.selection, p.err
}

func (p *mockPredictor) PredictWaste(context.Context, ports.Features) (ports.Prediction, error) {
	return ports.Prediction{}, errors.New("not implemented")
}

func (p *mockPredictor) PredictTime(context.Context, ports.Features) (ports.Prediction, error) {
	return ports.Prediction{}, errors.New("not implemented")
}

// --- helpers ---

func testPool(t *testing.T) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Config{MinWorkers: 2, MaxWorkers: 2, MaxQueue: 8})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func pendingScenario(id, algorithm string) *domain.Scenario {
	return &domain.Scenario{
		ID:        id,
		JobID:     "job-1",
		Algorithm: algorithm,
		Pieces:    []domain.Piece{{ID: "p", Width: 300, Quantity: 3}},
		Stocks:    []domain.Stock{{ID: "B", Width: 1000, Available: 5}},
		Status:    domain.ScenarioPending,
	}
}

func TestRunScenarioHappyPath(t *testing.T) {
	scenarios := newMockScenarioRepo(pendingScenario("scn-1", optimizer.Algo1DFFD))
	plans := &mockPlanRepo{}
	bus := events.New(32)

	completed := make(chan events.Event, 1)
	bus.Subscribe(events.OptimizationCompleted, func(evt events.Event) error {
		completed <- evt
		return nil
	})
	planCreated := make(chan events.Event, 1)
	bus.Subscribe(events.PlanCreated, func(evt events.Event) error {
		planCreated <- evt
		return nil
	})

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     plans,
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       bus,
	})

	summary, err := coord.RunScenario(context.Background(), "scn-1")
	require.NoError(t, err)

	assert.Equal(t, "scn-1", summary.ScenarioID)
	assert.Equal(t, optimizer.Algo1DFFD, summary.Algorithm)
	assert.Equal(t, 1, summary.StockUsedCount)
	assert.Equal(t, 0, summary.UnplacedCount)
	assert.InDelta(t, 90.0, summary.Efficiency, 1e-9)
	assert.NotEmpty(t, summary.PlanID)

	assert.Equal(t, []domain.ScenarioStatus{domain.ScenarioRunning, domain.ScenarioCompleted},
		scenarios.history())

	saved := plans.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, summary.PlanID, saved[0].ID)
	assert.True(t, saved[0].Result.Success)

	select {
	case evt := <-completed:
		assert.Equal(t, "scn-1", evt.AggregateID)
		assert.InDelta(t, 90.0, evt.Payload["efficiency"].(float64), 1e-9)
	case <-time.After(time.Second):
		t.Fatal("optimization.completed never published")
	}
	select {
	case evt := <-planCreated:
		assert.Equal(t, summary.PlanID, evt.AggregateID)
	case <-time.After(time.Second):
		t.Fatal("plan.created never published")
	}
}

func TestRunScenarioNotFound(t *testing.T) {
	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: newMockScenarioRepo(),
		Plans:     &mockPlanRepo{},
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       events.New(8),
	})

	_, err := coord.RunScenario(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, domain.CodeScenarioNotFound, domain.CodeOf(err))
}

func TestRunScenarioNotPending(t *testing.T) {
	sc := pendingScenario("scn-1", optimizer.Algo1DFFD)
	sc.Status = domain.ScenarioRunning
	scenarios := newMockScenarioRepo(sc)

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     &mockPlanRepo{},
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       events.New(8),
	})

	_, err := coord.RunScenario(context.Background(), "scn-1")
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	// La precondición fallida no genera transiciones.
	assert.Empty(t, scenarios.history())
}

func TestRunScenarioUnknownAlgorithm(t *testing.T) {
	scenarios := newMockScenarioRepo(pendingScenario("scn-1", "SIMULATED_ANNEALING"))

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     &mockPlanRepo{},
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       events.New(8),
	})

	_, err := coord.RunScenario(context.Background(), "scn-1")
	require.Error(t, err)
	assert.Equal(t, domain.CodeUnknownAlgorithm, domain.CodeOf(err))
	assert.Equal(t, domain.ScenarioFailed, scenarios.status("scn-1"))
}

func TestRunScenarioInvalidPieces(t *testing.T) {
	sc := pendingScenario("scn-1", optimizer.Algo1DFFD)
	sc.Pieces = []domain.Piece{{ID: "p", Width: 300, Quantity: 0}}
	scenarios := newMockScenarioRepo(sc)

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     &mockPlanRepo{},
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       events.New(8),
	})

	_, err := coord.RunScenario(context.Background(), "scn-1")
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	assert.Equal(t, domain.ScenarioFailed, scenarios.status("scn-1"))
}

func TestRunScenarioPredictorSelects(t *testing.T) {
	scenarios := newMockScenarioRepo(pendingScenario("scn-1", optimizer.Algo1DFFD))
	sink := metrics.NewMemory()
	feedback := ml.NewFeedbackService(ml.NewMemoryPredictionStore(), sink)

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     &mockPlanRepo{},
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       events.New(8),
		Predictor: &mockPredictor{selection: ports.Prediction{
			Success:    true,
			Algorithm:  optimizer.Algo1DBFD,
			Confidence: 0.9,
			ModelType:  "algorithm_selection",
		}},
		Feedback: feedback,
	})

	summary, err := coord.RunScenario(context.Background(), "scn-1")
	require.NoError(t, err)

	// El selector manda sobre el algoritmo pedido.
	assert.Equal(t, optimizer.Algo1DBFD, summary.Algorithm)
	assert.Equal(t, 1.0, sink.CounterValue("ml_predictions_total",
		map[string]string{"model_type": "algorithm_selection", "variant": "control", "status": "primary"}))
}

func TestRunScenarioPredictorFallback(t *testing.T) {
	scenarios := newMockScenarioRepo(pendingScenario("scn-1", optimizer.Algo1DFFD))
	sink := metrics.NewMemory()
	feedback := ml.NewFeedbackService(ml.NewMemoryPredictionStore(), sink)

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     &mockPlanRepo{},
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       events.New(8),
		Predictor: &mockPredictor{err: errors.New("predictor down")},
		Feedback:  feedback,
	})

	summary, err := coord.RunScenario(context.Background(), "scn-1")
	require.NoError(t, err)

	// Con el predictor caído se degrada al algoritmo pedido.
	assert.Equal(t, optimizer.Algo1DFFD, summary.Algorithm)
	assert.Equal(t, 1.0, sink.CounterValue("ml_predictions_total",
		map[string]string{"model_type": "algorithm_selection", "variant": "control", "status": "fallback"}))
}

func TestRunScenarioShadowRecorded(t *testing.T) {
	sc := pendingScenario("scn-1", optimizer.Algo1DFFD)
	sc.ShadowAlgorithm = optimizer.Algo1DBFD
	scenarios := newMockScenarioRepo(sc)

	store := ml.NewMemoryPredictionStore()
	sink := metrics.NewMemory()
	feedback := ml.NewFeedbackService(store, sink)

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     &mockPlanRepo{},
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       events.New(8),
		Feedback:  feedback,
	})

	summary, err := coord.RunScenario(context.Background(), "scn-1")
	require.NoError(t, err)
	assert.Equal(t, optimizer.Algo1DFFD, summary.Algorithm)

	coord.Wait()

	// La sombra queda apuntada y etiquetada con su propio waste real.
	labeled, err := store.Labeled(context.Background(), "waste",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, labeled, 1)
	assert.Equal(t, "shadow", labeled[0].ExecutionType)
	assert.Equal(t, optimizer.Algo1DBFD, labeled[0].ModelVersion)
	require.NotNil(t, labeled[0].ActualValue)
	assert.InDelta(t, labeled[0].RawPrediction, *labeled[0].ActualValue, 1e-9)

	assert.Equal(t, 1.0, sink.CounterValue("ml_predictions_total",
		map[string]string{"model_type": "waste", "variant": "control", "status": "shadow"}))
}

func TestRunScenarioExperimentAssignment(t *testing.T) {
	scenarios := newMockScenarioRepo(pendingScenario("scn-1", optimizer.Algo1DFFD))
	sink := metrics.NewMemory()
	feedback := ml.NewFeedbackService(ml.NewMemoryPredictionStore(), sink)

	// Experimento global al 100%: todos los jobs caen en el brazo variant.
	resolver := ml.NewResolver(ml.ExperimentSourceFunc(
		func(context.Context) ([]ml.Experiment, error) {
			return []ml.Experiment{{
				ID:                    "exp-1",
				ModelType:             "algorithm_selection",
				ScopeType:             ml.ScopeGlobal,
				ControlModelID:        "selector-v1",
				VariantModelID:        "selector-v2",
				AllocationBasisPoints: 10000,
				Salt:                  "s1",
			}}, nil
		}), ml.ResolverConfig{}, sink)

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     &mockPlanRepo{},
		Registry:  optimizer.DefaultRegistry(),
		Pool:      testPool(t),
		Bus:       events.New(8),
		Predictor: &mockPredictor{selection: ports.Prediction{
			Success:    true,
			Algorithm:  optimizer.Algo1DBFD,
			Confidence: 0.9,
			ModelType:  "algorithm_selection",
		}},
		Resolver: resolver,
		Feedback: feedback,
	})

	summary, err := coord.RunScenario(context.Background(), "scn-1")
	require.NoError(t, err)
	assert.Equal(t, optimizer.Algo1DBFD, summary.Algorithm)

	// La asignación de experimento etiqueta el registro de la predicción.
	assert.Equal(t, 1.0, sink.CounterValue("ml_predictions_total",
		map[string]string{"model_type": "algorithm_selection", "variant": "variant", "status": "primary"}))
	assert.Equal(t, 1.0, sink.CounterValue("ml_experiment_assignments_total",
		map[string]string{"experiment_id": "exp-1", "variant": "variant"}))
}

func TestRunScenarioResultCache(t *testing.T) {
	// Dos escenarios distintos con la misma entrada: el segundo se sirve
	// del fingerprint sin volver a computar.
	scenarios := newMockScenarioRepo(
		pendingScenario("scn-1", optimizer.Algo1DFFD),
		pendingScenario("scn-2", optimizer.Algo1DFFD),
	)
	plans := &mockPlanRepo{}
	sink := metrics.NewMemory()

	results := cache.NewMemory(cache.Config{})
	t.Cleanup(results.Disconnect)

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios:   scenarios,
		Plans:       plans,
		Registry:    optimizer.DefaultRegistry(),
		Pool:        testPool(t),
		Bus:         events.New(8),
		Metrics:     sink,
		ResultCache: results,
	})

	first, err := coord.RunScenario(context.Background(), "scn-1")
	require.NoError(t, err)
	second, err := coord.RunScenario(context.Background(), "scn-2")
	require.NoError(t, err)

	assert.Equal(t, 1.0, sink.CounterValue("result_cache_total",
		map[string]string{"outcome": "miss"}))
	assert.Equal(t, 1.0, sink.CounterValue("result_cache_total",
		map[string]string{"outcome": "hit"}))

	// Mismo layout, planes independientes.
	assert.NotEqual(t, first.PlanID, second.PlanID)
	assert.Equal(t, first.Efficiency, second.Efficiency)
	require.Len(t, plans.saved(), 2)
	assert.Equal(t, plans.saved()[0].Result, plans.saved()[1].Result)

	// Ambos escenarios terminan COMPLETED.
	assert.Equal(t, domain.ScenarioCompleted, scenarios.status("scn-1"))
	assert.Equal(t, domain.ScenarioCompleted, scenarios.status("scn-2"))
}

// blockingStrategy se queda esperando hasta la cancelación del contexto.
type blockingStrategy struct {
	started chan struct{}
}

func (blockingStrategy) Name() string             { return "1D_BLOCKING" }
func (blockingStrategy) Type() domain.ProblemType { return domain.Problem1D }

func (s blockingStrategy) Optimize(ctx context.Context, _ []domain.Piece, _ []domain.Stock, _ domain.Options) (*domain.OptimizationResult, error) {
	close(s.started)
	<-ctx.Done()
	return domain.EmptyResult(), ctx.Err()
}

func TestCancelScenario(t *testing.T) {
	scenarios := newMockScenarioRepo(pendingScenario("scn-1", "1D_BLOCKING"))

	registry := optimizer.DefaultRegistry()
	strategy := blockingStrategy{started: make(chan struct{})}
	registry.Register(strategy)

	coord := jobs.New(jobs.Config{}, jobs.Deps{
		Scenarios: scenarios,
		Plans:     &mockPlanRepo{},
		Registry:  registry,
		Pool:      testPool(t),
		Bus:       events.New(8),
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := coord.RunScenario(context.Background(), "scn-1")
		errCh <- err
	}()

	select {
	case <-strategy.started:
	case <-time.After(2 * time.Second):
		t.Fatal("strategy never started")
	}
	coord.CancelScenario("scn-1")

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, domain.CodeCancelled, domain.CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("RunScenario never returned after cancel")
	}
	assert.Equal(t, domain.ScenarioCancelled, scenarios.status("scn-1"))
}
