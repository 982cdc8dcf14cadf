package optimizer

// registry.go — registro de estrategias por nombre, con tablas separadas
// para 1D y 2D. Lectura mayoritaria: los registros ocurren al arrancar y
// las resoluciones durante toda la vida del proceso.

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// Nombres canónicos de algoritmo (claves de registro, exactas).
const (
	Algo1DFFD        = "1D_FFD"
	Algo1DBFD        = "1D_BFD"
	Algo2DBottomLeft = "2D_BOTTOM_LEFT"
	Algo2DGuillotine = "2D_GUILLOTINE"

	// AlgoMaxRects es un alias histórico: resuelve a guillotina.
	// TODO: sustituir por un MAXRECTS real cuando el splitting maximal
	// (ver cnc packer) esté validado contra producción.
	AlgoMaxRects = "MAXRECTS"
)

// Registry mapea nombre → estrategia. Seguro para uso concurrente.
type Registry struct {
	mu     sync.RWMutex
	tables map[domain.ProblemType]map[string]Strategy
}

// NewRegistry crea un registro vacío.
func NewRegistry() *Registry {
	return &Registry{tables: map[domain.ProblemType]map[string]Strategy{
		domain.Problem1D: {},
		domain.Problem2D: {},
	}}
}

// DefaultRegistry devuelve un registro con las cuatro estrategias de serie.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FirstFitDecreasing{})
	r.Register(BestFitDecreasing{})
	r.Register(BottomLeftFill{})
	r.Register(Guillotine{})
	return r
}

// Register da de alta una estrategia bajo su nombre canónico. Re-registrar
// sobreescribe la entrada anterior con un warning.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tables[s.Type()]
	if _, exists := table[s.Name()]; exists {
		slog.Warn("algorithm re-registered, overwriting",
			"algorithm", s.Name(),
			"type", string(s.Type()),
		)
	}
	table[s.Name()] = s
}

// Get resuelve una estrategia por nombre. MAXRECTS resuelve a guillotina
// (alias histórico conservado deliberadamente). Nombres desconocidos
// devuelven ERR_UNKNOWN_ALGORITHM.
func (r *Registry) Get(name string) (Strategy, error) {
	if name == AlgoMaxRects {
		name = Algo2DGuillotine
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, table := range r.tables {
		if s, ok := table[name]; ok {
			return s, nil
		}
	}
	return nil, domain.NewError(domain.CodeUnknownAlgorithm, "unknown algorithm: "+name, map[string]any{"algorithm": name})
}

// Has comprueba si un nombre está registrado (resolviendo alias).
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// List devuelve los nombres registrados de un tipo, ordenados.
func (r *Registry) List(typ domain.ProblemType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables[typ]))
	for name := range r.tables[typ] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
