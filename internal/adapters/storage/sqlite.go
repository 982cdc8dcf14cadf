package storage

// sqlite.go — persistencia SQLite de escenarios, planes y predicciones.
//
// Estrategia:
//   - `scenarios`: una fila por escenario con piezas/stock/opciones en JSON.
//     El motor solo actualiza el estado; el contenido lo escribe quien crea
//     el escenario.
//   - `plans`: una fila por plan con el layout completo en JSON. Append-only.
//   - `predictions`: log append-only del lazo ML; el feedback se adjunta
//     por UPDATE sobre la misma fila.
//   - `experiments`: experimentos A/B activos que consume el resolver.
//   - Prune automático al arrancar: planes > 90d, predicciones > 30d.
//
// SQLite puro Go (modernc), single-writer: MaxOpenConns=1.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/ml"
	"github.com/alejandrodnm/opticut/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS scenarios (
    id               TEXT PRIMARY KEY,
    job_id           TEXT,
    tenant_id        TEXT NOT NULL DEFAULT '',
    algorithm        TEXT NOT NULL,
    shadow_algorithm TEXT NOT NULL DEFAULT '',
    pieces           TEXT NOT NULL,
    stocks           TEXT NOT NULL,
    options          TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'PENDING',
    error            TEXT NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
    id          TEXT PRIMARY KEY,
    scenario_id TEXT NOT NULL,
    algorithm   TEXT NOT NULL,
    result      TEXT NOT NULL,
    created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
    id             TEXT PRIMARY KEY,
    model_type     TEXT NOT NULL,
    model_version  TEXT NOT NULL DEFAULT '',
    input_features TEXT NOT NULL DEFAULT '{}',
    raw_prediction REAL NOT NULL DEFAULT 0,
    confidence     REAL NOT NULL DEFAULT 0,
    execution_type TEXT NOT NULL DEFAULT 'primary',
    variant        TEXT NOT NULL DEFAULT '',
    latency_ms     REAL NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL,
    actual_value   REAL,
    feedback_score REAL,
    feedback_at    DATETIME
);

CREATE TABLE IF NOT EXISTS experiments (
    id               TEXT PRIMARY KEY,
    model_type       TEXT NOT NULL,
    scope_type       TEXT NOT NULL DEFAULT 'global',
    scope_tenant_id  TEXT NOT NULL DEFAULT '',
    control_model_id TEXT NOT NULL DEFAULT '',
    variant_model_id TEXT NOT NULL DEFAULT '',
    allocation_bps   INTEGER NOT NULL DEFAULT 0,
    salt             TEXT NOT NULL DEFAULT '',
    start_date       DATETIME NOT NULL,
    end_date         DATETIME,
    status           TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_scenarios_status ON scenarios(status);
CREATE INDEX IF NOT EXISTS idx_plans_scenario   ON plans(scenario_id);
CREATE INDEX IF NOT EXISTS idx_pred_model_at    ON predictions(model_type, created_at);
`

const (
	retentionPlans       = 90 * 24 * time.Hour
	retentionPredictions = 30 * 24 * time.Hour
)

// SQLite implementa ports.ScenarioRepository, ports.PlanRepository y
// ports.PredictionStore sobre una única base de datos.
type SQLite struct {
	db *sql.DB
}

// interfaces implementadas
var (
	_ ports.ScenarioRepository = (*SQLite)(nil)
	_ ports.PlanRepository     = (*SQLite)(nil)
	_ ports.PredictionStore    = (*SQLite)(nil)
	_ ml.ExperimentSource      = (*SQLite)(nil)
)

// NewSQLite abre (o crea) la base de datos en la ruta dada. Aplica el
// schema y limpia datos antiguos. `:memory:` sirve para tests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLite: apply schema: %w", err)
	}

	s := &SQLite{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// --- ScenarioRepository ---

// CreateScenario inserta un escenario nuevo en estado PENDING.
func (s *SQLite) CreateScenario(ctx context.Context, sc *domain.Scenario) error {
	pieces, err := json.Marshal(sc.Pieces)
	if err != nil {
		return fmt.Errorf("storage.CreateScenario: marshal pieces: %w", err)
	}
	stocks, err := json.Marshal(sc.Stocks)
	if err != nil {
		return fmt.Errorf("storage.CreateScenario: marshal stocks: %w", err)
	}
	opts, err := json.Marshal(sc.Options)
	if err != nil {
		return fmt.Errorf("storage.CreateScenario: marshal options: %w", err)
	}

	now := time.Now().UTC()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.Status == "" {
		sc.Status = domain.ScenarioPending
	}
	sc.CreatedAt = now
	sc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scenarios
			(id, job_id, tenant_id, algorithm, shadow_algorithm, pieces, stocks,
			 options, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)
	`, sc.ID, sc.JobID, sc.TenantID, sc.Algorithm, sc.ShadowAlgorithm,
		string(pieces), string(stocks), string(opts),
		string(sc.Status), now, now)
	if err != nil {
		return fmt.Errorf("storage.CreateScenario: insert: %w", err)
	}
	return nil
}

// GetScenario devuelve el escenario o ERR_SCENARIO_NOT_FOUND.
func (s *SQLite) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, tenant_id, algorithm, shadow_algorithm, pieces,
		       stocks, options, status, error, created_at, updated_at
		FROM scenarios WHERE id = ?
	`, id)

	var sc domain.Scenario
	var pieces, stocks, opts, status string
	err := row.Scan(&sc.ID, &sc.JobID, &sc.TenantID, &sc.Algorithm, &sc.ShadowAlgorithm,
		&pieces, &stocks, &opts, &status, &sc.Error, &sc.CreatedAt, &sc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.CodeScenarioNotFound,
			fmt.Sprintf("scenario %s not found", id), map[string]any{"scenarioId": id})
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetScenario: scan: %w", err)
	}
	sc.Status = domain.ScenarioStatus(status)

	if err := json.Unmarshal([]byte(pieces), &sc.Pieces); err != nil {
		return nil, fmt.Errorf("storage.GetScenario: unmarshal pieces: %w", err)
	}
	if err := json.Unmarshal([]byte(stocks), &sc.Stocks); err != nil {
		return nil, fmt.Errorf("storage.GetScenario: unmarshal stocks: %w", err)
	}
	if err := json.Unmarshal([]byte(opts), &sc.Options); err != nil {
		return nil, fmt.Errorf("storage.GetScenario: unmarshal options: %w", err)
	}
	return &sc, nil
}

// UpdateStatus registra la transición de estado del escenario.
func (s *SQLite) UpdateStatus(ctx context.Context, id string, status domain.ScenarioStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scenarios SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(status), errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewError(domain.CodeScenarioNotFound,
			fmt.Sprintf("scenario %s not found", id), map[string]any{"scenarioId": id})
	}
	return nil
}

// --- PlanRepository ---

// SavePlan persiste el plan completo con su layout en JSON.
func (s *SQLite) SavePlan(ctx context.Context, plan *domain.CuttingPlan) error {
	result, err := json.Marshal(plan.Result)
	if err != nil {
		return fmt.Errorf("storage.SavePlan: marshal result: %w", err)
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, scenario_id, algorithm, result, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, plan.ID, plan.ScenarioID, plan.Algorithm, string(result), plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage.SavePlan: insert: %w", err)
	}
	return nil
}

// GetPlan recupera un plan por id con su resultado deserializado.
func (s *SQLite) GetPlan(ctx context.Context, id string) (*domain.CuttingPlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, algorithm, result, created_at FROM plans WHERE id = ?
	`, id)

	var plan domain.CuttingPlan
	var result string
	err := row.Scan(&plan.ID, &plan.ScenarioID, &plan.Algorithm, &result, &plan.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.CodeScenarioNotFound,
			fmt.Sprintf("plan %s not found", id), map[string]any{"planId": id})
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetPlan: scan: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &plan.Result); err != nil {
		return nil, fmt.Errorf("storage.GetPlan: unmarshal result: %w", err)
	}
	return &plan, nil
}

// --- PredictionStore ---

// Append añade una predicción al log.
func (s *SQLite) Append(ctx context.Context, rec *ports.PredictionRecord) error {
	features, err := json.Marshal(rec.InputFeatures)
	if err != nil {
		return fmt.Errorf("storage.Append: marshal features: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions
			(id, model_type, model_version, input_features, raw_prediction,
			 confidence, execution_type, variant, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ModelType, rec.ModelVersion, string(features),
		rec.RawPrediction, rec.Confidence, rec.ExecutionType, rec.Variant,
		rec.LatencyMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage.Append: insert: %w", err)
	}
	return nil
}

// AttachFeedback adjunta el ground truth a una predicción existente.
func (s *SQLite) AttachFeedback(ctx context.Context, predictionID string, actual float64, score *float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET actual_value = ?, feedback_score = ?, feedback_at = ?
		WHERE id = ?
	`, actual, score, time.Now().UTC(), predictionID)
	if err != nil {
		return fmt.Errorf("storage.AttachFeedback: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewError(domain.CodeValidation,
			fmt.Sprintf("prediction %s not found", predictionID), nil)
	}
	return nil
}

// Labeled devuelve las predicciones con feedback del modelo en la ventana,
// en orden de creación.
func (s *SQLite) Labeled(ctx context.Context, modelType string, from, to time.Time) ([]ports.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_type, model_version, input_features, raw_prediction,
		       confidence, execution_type, variant, latency_ms, created_at,
		       actual_value, feedback_score, feedback_at
		FROM predictions
		WHERE model_type = ? AND actual_value IS NOT NULL
		  AND created_at BETWEEN ? AND ?
		ORDER BY created_at ASC
	`, modelType, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.Labeled: query: %w", err)
	}
	defer rows.Close()

	var out []ports.PredictionRecord
	for rows.Next() {
		var rec ports.PredictionRecord
		var features string
		if err := rows.Scan(&rec.ID, &rec.ModelType, &rec.ModelVersion, &features,
			&rec.RawPrediction, &rec.Confidence, &rec.ExecutionType, &rec.Variant,
			&rec.LatencyMs, &rec.CreatedAt,
			&rec.ActualValue, &rec.FeedbackScore, &rec.FeedbackAt,
		); err != nil {
			return nil, fmt.Errorf("storage.Labeled: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(features), &rec.InputFeatures); err != nil {
			return nil, fmt.Errorf("storage.Labeled: unmarshal features: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AggregateDaily calcula el resumen diario por modelo.
func (s *SQLite) AggregateDaily(ctx context.Context, modelType string, day time.Time) (*ports.DailySummary, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN execution_type = 'fallback' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(MAX(latency_ms), 0),
		       COALESCE(AVG(confidence), 0),
		       COALESCE(MIN(confidence), 0),
		       COALESCE(SUM(CASE WHEN actual_value IS NOT NULL
		                           OR feedback_score IS NOT NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(feedback_score), 0)
		FROM predictions
		WHERE model_type = ? AND created_at >= ? AND created_at < ?
	`, modelType, dayStart, dayEnd)

	sum := &ports.DailySummary{ModelType: modelType, Day: dayStart}
	if err := row.Scan(&sum.PredictionCount, &sum.FallbackCount,
		&sum.AvgLatencyMs, &sum.MaxLatencyMs,
		&sum.AvgConfidence, &sum.MinConfidence,
		&sum.FeedbackCount, &sum.AvgFeedbackScore,
	); err != nil {
		return nil, fmt.Errorf("storage.AggregateDaily: scan: %w", err)
	}
	return sum, nil
}

// --- ExperimentSource ---

// CreateExperiment da de alta un experimento champion/challenger.
func (s *SQLite) CreateExperiment(ctx context.Context, exp *ml.Experiment) error {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.Status == "" {
		exp.Status = "active"
	}
	if exp.StartDate.IsZero() {
		exp.StartDate = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiments
			(id, model_type, scope_type, scope_tenant_id, control_model_id,
			 variant_model_id, allocation_bps, salt, start_date, end_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exp.ID, exp.ModelType, string(exp.ScopeType), exp.ScopeTenantID,
		exp.ControlModelID, exp.VariantModelID, exp.AllocationBasisPoints,
		exp.Salt, exp.StartDate.UTC(), exp.EndDate, exp.Status)
	if err != nil {
		return fmt.Errorf("storage.CreateExperiment: insert: %w", err)
	}
	return nil
}

// ListActive devuelve los experimentos activos dentro de su ventana de
// fechas; es la fuente que consume el resolver de variantes.
func (s *SQLite) ListActive(ctx context.Context) ([]ml.Experiment, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_type, scope_type, scope_tenant_id, control_model_id,
		       variant_model_id, allocation_bps, salt, start_date, end_date, status
		FROM experiments
		WHERE status = 'active' AND start_date <= ?
		  AND (end_date IS NULL OR end_date > ?)
		ORDER BY start_date ASC
	`, now, now)
	if err != nil {
		return nil, fmt.Errorf("storage.ListActive: query: %w", err)
	}
	defer rows.Close()

	var out []ml.Experiment
	for rows.Next() {
		var exp ml.Experiment
		var scope string
		if err := rows.Scan(&exp.ID, &exp.ModelType, &scope, &exp.ScopeTenantID,
			&exp.ControlModelID, &exp.VariantModelID, &exp.AllocationBasisPoints,
			&exp.Salt, &exp.StartDate, &exp.EndDate, &exp.Status,
		); err != nil {
			return nil, fmt.Errorf("storage.ListActive: scan row: %w", err)
		}
		exp.ScopeType = ml.ScopeType(scope)
		out = append(out, exp)
	}
	return out, rows.Err()
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLite) pruneOld(ctx context.Context) {
	cutoffPlans := time.Now().UTC().Add(-retentionPlans)
	cutoffPreds := time.Now().UTC().Add(-retentionPredictions)
	s.db.ExecContext(ctx, `DELETE FROM plans WHERE created_at < ?`, cutoffPlans)
	s.db.ExecContext(ctx, `DELETE FROM predictions WHERE created_at < ?`, cutoffPreds)
}
