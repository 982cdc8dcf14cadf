package domain

import "time"

// ScenarioStatus es el estado del ciclo de vida de un escenario.
type ScenarioStatus string

const (
	ScenarioPending   ScenarioStatus = "PENDING"
	ScenarioRunning   ScenarioStatus = "RUNNING"
	ScenarioCompleted ScenarioStatus = "COMPLETED"
	ScenarioFailed    ScenarioStatus = "FAILED"
	ScenarioCancelled ScenarioStatus = "CANCELLED"
)

// Scenario describe una petición de optimización lista para ejecutar.
type Scenario struct {
	ID        string         `json:"id"`
	JobID     string         `json:"jobId"`
	TenantID  string         `json:"tenantId,omitempty"`
	Algorithm string         `json:"algorithm"`
	Pieces    []Piece        `json:"pieces"`
	Stocks    []Stock        `json:"stocks"`
	Options   Options        `json:"options"`
	Status    ScenarioStatus `json:"status"`
	// ShadowAlgorithm, si está configurado, se ejecuta en paralelo sin
	// afectar al resultado devuelto (champion/challenger).
	ShadowAlgorithm string `json:"shadowAlgorithm,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CuttingPlan es el plan de corte persistido al completar un escenario.
type CuttingPlan struct {
	ID         string              `json:"id"`
	ScenarioID string              `json:"scenarioId"`
	Algorithm  string              `json:"algorithm"`
	Result     *OptimizationResult `json:"result"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// PlanSummary es el resumen que devuelve el coordinator al caller.
type PlanSummary struct {
	PlanID          string  `json:"planId"`
	ScenarioID      string  `json:"scenarioId"`
	Algorithm       string  `json:"algorithm"`
	StockUsedCount  int     `json:"stockUsedCount"`
	WasteArea       float64 `json:"wasteArea"`
	WastePercentage float64 `json:"wastePercentage"`
	Efficiency      float64 `json:"efficiency"`
	UnplacedCount   int     `json:"unplacedCount"`
	DurationMs      int64   `json:"durationMs"`
}
