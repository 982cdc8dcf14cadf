package jobs

// coordinator.go — orquestación del ciclo de vida de un escenario.
//
// RunScenario resuelve la estrategia (consultando el selector ML con
// degradación al algoritmo pedido), envía la tarea al pool, difunde los
// eventos de dominio y persiste el plan resultante. La ejecución shadow
// corre en paralelo con la misma entrada: su resultado se apunta en el
// log de predicciones pero nunca se devuelve al caller.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/opticut/internal/cache"
	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/events"
	"github.com/alejandrodnm/opticut/internal/ml"
	"github.com/alejandrodnm/opticut/internal/optimizer"
	"github.com/alejandrodnm/opticut/internal/pool"
	"github.com/alejandrodnm/opticut/internal/ports"
	"github.com/alejandrodnm/opticut/internal/resilience"
)

// Tipos de ejecución apuntados en el log de predicciones.
const (
	ExecutionPrimary  = "primary"
	ExecutionShadow   = "shadow"
	ExecutionFallback = "fallback"
)

// Config controla los timeouts del coordinator.
type Config struct {
	// TaskTimeout es el deadline de cada tarea enviada al pool (0 usa el
	// default del pool).
	TaskTimeout time.Duration
	// ShadowTimeout acota la ejecución shadow completa.
	ShadowTimeout time.Duration
}

// Coordinator orquesta escenarios de optimización de principio a fin.
type Coordinator struct {
	cfg       Config
	scenarios ports.ScenarioRepository
	plans     ports.PlanRepository
	registry  *optimizer.Registry
	pool      *pool.Pool
	bus       *events.Bus
	predictor ports.Predictor
	breaker   *resilience.Breaker
	resolver  *ml.Resolver
	feedback  *ml.FeedbackService
	notifier  ports.Notifier
	metrics   ports.Metrics
	results   *cache.Memory

	// running mapea escenario → tarea para poder cancelar por escenario.
	mu      sync.Mutex
	running map[string]string

	wg  sync.WaitGroup
	now func() time.Time
}

// Deps agrupa las dependencias inyectadas del coordinator. Predictor,
// feedback y notifier son opcionales; el resto es obligatorio.
type Deps struct {
	Scenarios ports.ScenarioRepository
	Plans     ports.PlanRepository
	Registry  *optimizer.Registry
	Pool      *pool.Pool
	Bus       *events.Bus
	Predictor ports.Predictor
	Breaker   *resilience.Breaker
	// Resolver, si se configura, asigna el brazo de experimento antes de
	// consultar al predictor; la asignación viaja al log de predicciones.
	Resolver *ml.Resolver
	Feedback *ml.FeedbackService
	Notifier ports.Notifier
	Metrics  ports.Metrics
	// ResultCache, si se configura, reutiliza resultados por fingerprint de
	// escenario: misma entrada, mismo algoritmo → mismo plan sin recomputar.
	ResultCache *cache.Memory
}

// New crea el coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	if cfg.ShadowTimeout <= 0 {
		cfg.ShadowTimeout = 2 * time.Minute
	}
	if deps.Predictor == nil {
		deps.Predictor = ml.NullPredictor{}
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	return &Coordinator{
		cfg:       cfg,
		scenarios: deps.Scenarios,
		plans:     deps.Plans,
		registry:  deps.Registry,
		pool:      deps.Pool,
		bus:       deps.Bus,
		predictor: deps.Predictor,
		breaker:   deps.Breaker,
		resolver:  deps.Resolver,
		feedback:  deps.Feedback,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		results:   deps.ResultCache,
		running:   make(map[string]string),
		now:       time.Now,
	}
}

// RunScenario ejecuta un escenario PENDING hasta su estado terminal y
// devuelve el resumen del plan. Precondición: el escenario existe y está
// PENDING; cualquier otro estado es ERR_VALIDATION.
func (c *Coordinator) RunScenario(ctx context.Context, scenarioID string) (*domain.PlanSummary, error) {
	sc, err := c.scenarios.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("jobs.RunScenario: %w", err)
	}
	if sc.Status != domain.ScenarioPending {
		return nil, domain.NewError(domain.CodeValidation,
			fmt.Sprintf("scenario %s is %s, expected PENDING", scenarioID, sc.Status),
			map[string]any{"status": string(sc.Status)})
	}

	algorithm := c.selectAlgorithm(ctx, sc)

	strategy, err := c.registry.Get(algorithm)
	if err != nil {
		c.fail(ctx, sc, err)
		return nil, fmt.Errorf("jobs.RunScenario: %w", err)
	}
	if err := domain.ValidatePieces(sc.Pieces, strategy.Type()); err != nil {
		c.fail(ctx, sc, err)
		return nil, fmt.Errorf("jobs.RunScenario: %w", err)
	}
	if err := domain.ValidateStocks(sc.Stocks, strategy.Type()); err != nil {
		c.fail(ctx, sc, err)
		return nil, fmt.Errorf("jobs.RunScenario: %w", err)
	}

	if err := c.scenarios.UpdateStatus(ctx, sc.ID, domain.ScenarioRunning, ""); err != nil {
		return nil, fmt.Errorf("jobs.RunScenario: update status: %w", err)
	}
	c.bus.Publish(events.OptimizationStarted, "scenario", sc.ID, map[string]any{
		"jobId":     sc.JobID,
		"algorithm": algorithm,
	})

	started := c.now()

	if cached, ok := c.cachedResult(ctx, sc, algorithm); ok {
		return c.finalize(ctx, sc, algorithm, cached, started)
	}

	handle, err := c.submit(sc, strategy, algorithm)
	if err != nil {
		c.fail(ctx, sc, err)
		return nil, fmt.Errorf("jobs.RunScenario: %w", err)
	}

	c.track(sc.ID, handle.TaskID)
	defer c.untrack(sc.ID)

	if sc.ShadowAlgorithm != "" && sc.ShadowAlgorithm != algorithm {
		c.launchShadow(sc)
	}

	raw, err := handle.Wait(ctx)
	if err != nil {
		status := domain.ScenarioFailed
		if domain.CodeOf(err) == domain.CodeCancelled {
			status = domain.ScenarioCancelled
		}
		if uerr := c.scenarios.UpdateStatus(context.WithoutCancel(ctx), sc.ID, status, err.Error()); uerr != nil {
			slog.Error("scenario status update failed", "scenario_id", sc.ID, "err", uerr)
		}
		c.bus.Publish(events.OptimizationFailed, "scenario", sc.ID, map[string]any{
			"code":    string(domain.CodeOf(err)),
			"message": err.Error(),
		})
		return nil, fmt.Errorf("jobs.RunScenario: %w", err)
	}

	result, ok := raw.(*domain.OptimizationResult)
	if !ok || result == nil {
		err := domain.NewError(domain.CodeStrategyFailed, "strategy returned no result", nil)
		c.fail(ctx, sc, err)
		return nil, fmt.Errorf("jobs.RunScenario: %w", err)
	}

	c.storeResult(ctx, sc, algorithm, result)
	return c.finalize(ctx, sc, algorithm, result, started)
}

// finalize persiste el plan, cierra el escenario y difunde los eventos de
// éxito. Común a la ejecución normal y al hit de caché.
func (c *Coordinator) finalize(ctx context.Context, sc *domain.Scenario, algorithm string, result *domain.OptimizationResult, started time.Time) (*domain.PlanSummary, error) {
	plan := &domain.CuttingPlan{
		ID:         uuid.NewString(),
		ScenarioID: sc.ID,
		Algorithm:  algorithm,
		Result:     result,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.plans.SavePlan(ctx, plan); err != nil {
		c.fail(ctx, sc, err)
		return nil, fmt.Errorf("jobs.RunScenario: save plan: %w", err)
	}
	if err := c.scenarios.UpdateStatus(ctx, sc.ID, domain.ScenarioCompleted, ""); err != nil {
		return nil, fmt.Errorf("jobs.RunScenario: update status: %w", err)
	}

	duration := c.now().Sub(started)
	c.bus.Publish(events.OptimizationCompleted, "scenario", sc.ID, map[string]any{
		"planId":     plan.ID,
		"efficiency": result.Statistics.Efficiency,
		"durationMs": duration.Milliseconds(),
	})
	c.bus.Publish(events.PlanCreated, "plan", plan.ID, map[string]any{
		"scenarioId": sc.ID,
		"algorithm":  algorithm,
	})

	if c.notifier != nil {
		if nerr := c.notifier.NotifyPlan(ctx, plan); nerr != nil {
			// La notificación es un efecto secundario: nunca aborta el plan.
			slog.Warn("plan notification failed", "plan_id", plan.ID, "err", nerr)
		}
	}

	unplaced := 0
	for _, up := range result.UnplacedPieces {
		unplaced += up.Quantity
	}
	return &domain.PlanSummary{
		PlanID:          plan.ID,
		ScenarioID:      sc.ID,
		Algorithm:       algorithm,
		StockUsedCount:  result.StockUsedCount,
		WasteArea:       result.TotalWasteArea,
		WastePercentage: result.TotalWastePercentage,
		Efficiency:      result.Statistics.Efficiency,
		UnplacedCount:   unplaced,
		DurationMs:      duration.Milliseconds(),
	}, nil
}

// CancelScenario solicita la cancelación cooperativa de un escenario en
// vuelo. No-op si no está corriendo.
func (c *Coordinator) CancelScenario(scenarioID string) {
	c.mu.Lock()
	taskID, ok := c.running[scenarioID]
	c.mu.Unlock()
	if ok {
		c.pool.Cancel(taskID)
	}
}

// Wait espera a que terminen las ejecuciones shadow en vuelo.
func (c *Coordinator) Wait() { c.wg.Wait() }

// selectAlgorithm consulta el selector ML tras el breaker. Cualquier fallo
// o success=false degrada al algoritmo pedido por el caller.
func (c *Coordinator) selectAlgorithm(ctx context.Context, sc *domain.Scenario) string {
	features := extractFeatures(sc)
	assignment := c.resolveExperiment(ctx, sc)

	var pred ports.Prediction
	call := func(ctx context.Context) error {
		var err error
		pred, err = c.predictor.SelectAlgorithm(ctx, features)
		return err
	}

	var err error
	predStart := c.now()
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	latency := c.now().Sub(predStart)

	pred.Variant = string(assignment.Variant)
	if pred.ModelVersion == "" {
		pred.ModelVersion = assignment.ModelID
	}

	if err != nil || !pred.Success || !c.registry.Has(pred.Algorithm) {
		if err != nil {
			slog.Warn("algorithm selector unavailable, using requested algorithm",
				"scenario_id", sc.ID,
				"algorithm", sc.Algorithm,
				"err", err,
			)
		}
		c.recordPrediction(ctx, pred, features, ExecutionFallback, latency)
		return sc.Algorithm
	}

	slog.Info("algorithm selected by predictor",
		"scenario_id", sc.ID,
		"requested", sc.Algorithm,
		"selected", pred.Algorithm,
		"confidence", pred.Confidence,
	)
	c.recordPrediction(ctx, pred, features, ExecutionPrimary, latency)
	return pred.Algorithm
}

// resolveExperiment asigna el brazo de experimento del escenario. El job
// es la unidad de asignación: todos los escenarios del mismo job caen en
// el mismo brazo. Sin resolver o sin experimento aplicable devuelve la
// asignación vacía (control).
func (c *Coordinator) resolveExperiment(ctx context.Context, sc *domain.Scenario) ml.Assignment {
	if c.resolver == nil {
		return ml.Assignment{}
	}
	unitKey := sc.JobID
	if unitKey == "" {
		unitKey = sc.ID
	}
	asg, ok, err := c.resolver.Resolve(ctx, "algorithm_selection", unitKey, sc.TenantID)
	if err != nil {
		slog.Warn("experiment resolution failed, defaulting to control",
			"scenario_id", sc.ID,
			"err", err,
		)
		return ml.Assignment{}
	}
	if !ok {
		return ml.Assignment{}
	}
	return asg
}

// recordPrediction apunta la predicción en el log si hay feedback service.
func (c *Coordinator) recordPrediction(ctx context.Context, pred ports.Prediction, features ports.Features, executionType string, latency time.Duration) {
	if c.feedback == nil {
		return
	}
	if pred.ModelType == "" {
		pred.ModelType = "algorithm_selection"
	}
	if _, err := c.feedback.Record(ctx, pred, features, executionType, latency); err != nil {
		slog.Warn("prediction record failed", "model_type", pred.ModelType, "err", err)
	}
}

// submit encola la estrategia en el pool con hitos de progreso difundidos
// por el bus.
func (c *Coordinator) submit(sc *domain.Scenario, strategy optimizer.Strategy, algorithm string) (*pool.Handle, error) {
	scenarioID := sc.ID
	pieces, stocks, opts := sc.Pieces, sc.Stocks, sc.Options
	return c.pool.Submit(pool.Task{
		Type:      strategy.Type(),
		Algorithm: algorithm,
		Timeout:   c.cfg.TaskTimeout,
		Run: func(ctx context.Context, report pool.ReportFunc) (any, error) {
			report(25, "optimizing")
			c.bus.Publish(events.OptimizationProgress, "scenario", scenarioID, map[string]any{
				"algorithm": algorithm,
				"progress":  25,
			})
			result, err := strategy.Optimize(ctx, pieces, stocks, opts)
			if err != nil {
				return result, err
			}
			report(90, "finalizing")
			return result, nil
		},
	})
}

// launchShadow ejecuta el algoritmo challenger con la misma entrada en una
// goroutine propia. El resultado solo alimenta el log de predicciones.
func (c *Coordinator) launchShadow(sc *domain.Scenario) {
	shadow, err := c.registry.Get(sc.ShadowAlgorithm)
	if err != nil {
		slog.Warn("shadow algorithm unknown, skipping",
			"scenario_id", sc.ID,
			"algorithm", sc.ShadowAlgorithm,
		)
		return
	}

	scenarioID := sc.ID
	pieces, stocks, opts := sc.Pieces, sc.Stocks, sc.Options
	features := extractFeatures(sc)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShadowTimeout)
		defer cancel()

		handle, err := c.pool.Submit(pool.Task{
			Type:      shadow.Type(),
			Algorithm: sc.ShadowAlgorithm,
			Timeout:   c.cfg.TaskTimeout,
			Run: func(ctx context.Context, report pool.ReportFunc) (any, error) {
				return shadow.Optimize(ctx, pieces, stocks, opts)
			},
		})
		if err != nil {
			// El pool saturado descarta la sombra: el primario tiene prioridad.
			slog.Warn("shadow submit rejected", "scenario_id", scenarioID, "err", err)
			return
		}

		start := time.Now()
		raw, err := handle.Wait(ctx)
		if err != nil {
			slog.Warn("shadow execution failed", "scenario_id", scenarioID, "err", err)
			return
		}
		result, ok := raw.(*domain.OptimizationResult)
		if !ok || result == nil {
			return
		}

		if c.feedback != nil {
			predID, rerr := c.feedback.Record(ctx, ports.Prediction{
				PredictionID: uuid.NewString(),
				Success:      true,
				Value:        result.TotalWastePercentage,
				ModelType:    "waste",
				ModelVersion: sc.ShadowAlgorithm,
				Confidence:   1,
			}, features, ExecutionShadow, time.Since(start))
			if rerr != nil {
				slog.Warn("shadow prediction record failed", "scenario_id", scenarioID, "err", rerr)
				return
			}
			if ferr := c.feedback.SubmitFeedback(ctx, predID, result.TotalWastePercentage, nil); ferr != nil {
				slog.Warn("shadow feedback failed", "scenario_id", scenarioID, "err", ferr)
			}
		}
		slog.Debug("shadow execution recorded",
			"scenario_id", scenarioID,
			"algorithm", sc.ShadowAlgorithm,
			"waste_pct", result.TotalWastePercentage,
		)
	}()
}

// cachedResult busca un resultado previo por fingerprint de escenario.
func (c *Coordinator) cachedResult(ctx context.Context, sc *domain.Scenario, algorithm string) (*domain.OptimizationResult, bool) {
	if c.results == nil {
		return nil, false
	}
	key := resultKey(sc, algorithm)
	v, ok, err := c.results.Get(ctx, key)
	if err != nil || !ok {
		c.metrics.Counter("result_cache_total", map[string]string{"outcome": "miss"}, 1)
		return nil, false
	}
	result, isResult := v.(*domain.OptimizationResult)
	if !isResult {
		return nil, false
	}
	c.metrics.Counter("result_cache_total", map[string]string{"outcome": "hit"}, 1)
	slog.Info("scenario served from result cache",
		"scenario_id", sc.ID,
		"algorithm", algorithm,
	)
	return result, true
}

// storeResult guarda el resultado terminado bajo su fingerprint. Las
// estrategias son deterministas, así que el cacheo es seguro también para
// resultados con piezas sin colocar.
func (c *Coordinator) storeResult(ctx context.Context, sc *domain.Scenario, algorithm string, result *domain.OptimizationResult) {
	if c.results == nil {
		return
	}
	if err := c.results.Set(ctx, resultKey(sc, algorithm), result, 0); err != nil {
		slog.Debug("result cache store failed", "scenario_id", sc.ID, "err", err)
	}
}

// resultKey deriva la clave de caché del contenido del escenario: SHA-256
// del JSON canónico de (algoritmo, piezas, stock, opciones). Dos escenarios
// con la misma entrada comparten plan.
func resultKey(sc *domain.Scenario, algorithm string) string {
	payload, _ := json.Marshal(struct {
		Algorithm string         `json:"algorithm"`
		Pieces    []domain.Piece `json:"pieces"`
		Stocks    []domain.Stock `json:"stocks"`
		Options   domain.Options `json:"options"`
	}{algorithm, sc.Pieces, sc.Stocks, sc.Options})
	sum := sha256.Sum256(payload)
	return "result:" + hex.EncodeToString(sum[:])
}

// fail marca el escenario como FAILED y difunde el evento de error.
func (c *Coordinator) fail(ctx context.Context, sc *domain.Scenario, cause error) {
	if err := c.scenarios.UpdateStatus(context.WithoutCancel(ctx), sc.ID, domain.ScenarioFailed, cause.Error()); err != nil {
		slog.Error("scenario status update failed", "scenario_id", sc.ID, "err", err)
	}
	c.bus.Publish(events.OptimizationFailed, "scenario", sc.ID, map[string]any{
		"code":    string(domain.CodeOf(cause)),
		"message": cause.Error(),
	})
}

func (c *Coordinator) track(scenarioID, taskID string) {
	c.mu.Lock()
	c.running[scenarioID] = taskID
	c.mu.Unlock()
}

func (c *Coordinator) untrack(scenarioID string) {
	c.mu.Lock()
	delete(c.running, scenarioID)
	c.mu.Unlock()
}

// extractFeatures deriva las características del escenario para el
// predictor: cardinalidades, áreas y proporciones.
func extractFeatures(sc *domain.Scenario) ports.Features {
	var pieceArea, stockArea, aspectSum float64
	units := 0
	for _, p := range sc.Pieces {
		pieceArea += p.Area() * float64(p.Quantity)
		units += p.Quantity
		if p.Height > 0 {
			aspectSum += p.Width / p.Height
		}
	}
	for _, s := range sc.Stocks {
		stockArea += s.Area() * float64(s.Available)
	}

	f := ports.Features{
		"pieceCount":     float64(len(sc.Pieces)),
		"unitCount":      float64(units),
		"stockCount":     float64(len(sc.Stocks)),
		"totalPieceArea": pieceArea,
		"totalStockArea": stockArea,
		"kerf":           sc.Options.Kerf,
	}
	if sc.Options.AllowRotation {
		f["allowRotation"] = 1
	} else {
		f["allowRotation"] = 0
	}
	if stockArea > 0 {
		f["demandRatio"] = pieceArea / stockArea
	}
	if len(sc.Pieces) > 0 {
		f["avgAspectRatio"] = aspectSum / float64(len(sc.Pieces))
	}
	return f
}
