package ml

// experiments.go — resolución determinista de experimentos A/B.
//
// El bucketing usa SHA-256: los primeros 8 bytes de
// SHA256(salt ":" experimentId ":" unitKey) como uint64 big-endian,
// módulo 10000. variant si bucket < allocationBasisPoints. Estable entre
// llamadas, procesos e instancias: sin estado, sin reloj.

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alejandrodnm/opticut/internal/ports"
)

// Variant identifica el brazo asignado de un experimento.
type Variant string

const (
	VariantControl Variant = "control"
	VariantVariant Variant = "variant"
)

// ScopeType delimita el alcance de un experimento.
type ScopeType string

const (
	ScopeGlobal ScopeType = "global"
	ScopeTenant ScopeType = "tenant"
)

// Experiment define un experimento champion/challenger activo.
type Experiment struct {
	ID                    string
	ModelType             string
	ScopeType             ScopeType
	ScopeTenantID         string
	ControlModelID        string
	VariantModelID        string
	AllocationBasisPoints int // [0, 10000]
	Salt                  string
	StartDate             time.Time
	EndDate               *time.Time
	Status                string
}

// Bucket calcula el bucket determinista [0, 10000) de una unit key.
func (e Experiment) Bucket(unitKey string) uint64 {
	sum := sha256.Sum256([]byte(e.Salt + ":" + e.ID + ":" + unitKey))
	return binary.BigEndian.Uint64(sum[:8]) % 10000
}

// Assign devuelve el brazo de la unit key según su bucket.
func (e Experiment) Assign(unitKey string) Variant {
	if e.Bucket(unitKey) < uint64(e.AllocationBasisPoints) {
		return VariantVariant
	}
	return VariantControl
}

// Assignment es el resultado de resolver un experimento para una unidad.
type Assignment struct {
	ExperimentID string
	Variant      Variant
	ModelID      string
}

// ExperimentSource lista los experimentos activos (normalmente un
// repositorio; en tests un slice fijo).
type ExperimentSource interface {
	ListActive(ctx context.Context) ([]Experiment, error)
}

// ExperimentSourceFunc adapta una función a ExperimentSource.
type ExperimentSourceFunc func(ctx context.Context) ([]Experiment, error)

func (f ExperimentSourceFunc) ListActive(ctx context.Context) ([]Experiment, error) {
	return f(ctx)
}

// ResolverConfig controla la caché de experimentos activos.
type ResolverConfig struct {
	// TTL de la caché de experimentos activos (default 60s).
	TTL time.Duration
	// Jitter aleatorio ± sobre el TTL (default 5s) para desincronizar
	// recargas entre instancias.
	Jitter time.Duration
}

// Resolver asigna variantes con caché single-flight de experimentos
// activos y TTL con jitter.
type Resolver struct {
	source  ExperimentSource
	cfg     ResolverConfig
	metrics ports.Metrics

	mu        sync.Mutex
	cached    []Experiment
	expiresAt time.Time
	rng       *rand.Rand

	group singleflight.Group

	now func() time.Time
}

// NewResolver crea el resolver con la fuente de experimentos dada.
func NewResolver(source ExperimentSource, cfg ResolverConfig, metrics ports.Metrics) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = 5 * time.Second
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Resolver{
		source:  source,
		cfg:     cfg,
		metrics: metrics,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// Resolve asigna variante para (modelType, unitKey, tenantID). Los
// experimentos con scope de tenant tienen precedencia sobre los globales
// del mismo model type. ok=false si no hay experimento aplicable.
func (r *Resolver) Resolve(ctx context.Context, modelType, unitKey, tenantID string) (Assignment, bool, error) {
	exps, err := r.active(ctx)
	if err != nil {
		return Assignment{}, false, fmt.Errorf("ml.Resolve: %w", err)
	}

	exp, ok := pickExperiment(exps, modelType, tenantID)
	if !ok {
		return Assignment{}, false, nil
	}

	variant := exp.Assign(unitKey)
	modelID := exp.ControlModelID
	if variant == VariantVariant {
		modelID = exp.VariantModelID
	}
	r.metrics.Counter("ml_experiment_assignments_total",
		map[string]string{"experiment_id": exp.ID, "variant": string(variant)}, 1)

	return Assignment{ExperimentID: exp.ID, Variant: variant, ModelID: modelID}, true, nil
}

// pickExperiment elige el experimento aplicable: tenant sobre global.
func pickExperiment(exps []Experiment, modelType, tenantID string) (Experiment, bool) {
	var global *Experiment
	for i := range exps {
		e := &exps[i]
		if e.ModelType != modelType {
			continue
		}
		switch e.ScopeType {
		case ScopeTenant:
			if tenantID != "" && e.ScopeTenantID == tenantID {
				return *e, true
			}
		case ScopeGlobal:
			if global == nil {
				global = e
			}
		}
	}
	if global != nil {
		return *global, true
	}
	return Experiment{}, false
}

// active devuelve los experimentos activos cacheados, recargando con
// single-flight al expirar el TTL (con jitter).
func (r *Resolver) active(ctx context.Context) ([]Experiment, error) {
	r.mu.Lock()
	if r.cached != nil && r.now().Before(r.expiresAt) {
		exps := r.cached
		r.mu.Unlock()
		return exps, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("active", func() (any, error) {
		exps, err := r.source.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cached = exps
		jitter := time.Duration(r.rng.Int63n(int64(2*r.cfg.Jitter))) - r.cfg.Jitter
		r.expiresAt = r.now().Add(r.cfg.TTL + jitter)
		r.mu.Unlock()
		return exps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Experiment), nil
}
