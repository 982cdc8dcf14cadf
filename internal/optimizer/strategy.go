package optimizer

// strategy.go — contrato común de las estrategias y pre-procesado compartido.
//
// Todas las estrategias son puras y deterministas: sin reloj, sin azar.
// Mismo input → mismo output, byte a byte. La cancelación es cooperativa:
// cada estrategia comprueba ctx una vez por pieza (bucle exterior) y, al
// observarla, devuelve el resultado parcial con success=false.

import (
	"context"
	"sort"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// Strategy es el contrato de un algoritmo de colocación:
// (pieces, stocks, options) → OptimizationResult.
type Strategy interface {
	// Name devuelve la clave canónica de registro (p.ej. "1D_FFD").
	Name() string

	// Type indica si la estrategia opera sobre barras (1D) o planchas (2D).
	Type() domain.ProblemType

	// Optimize ejecuta la colocación. Con entradas vacías devuelve el
	// resultado canónico vacío. Si ctx se cancela devuelve el parcial
	// acumulado junto con el error del contexto.
	Optimize(ctx context.Context, pieces []domain.Piece, stocks []domain.Stock, opts domain.Options) (*domain.OptimizationResult, error)
}

// sortedUnits expande las piezas por cantidad y las ordena por área
// descendente. Orden estable: los empates conservan el orden de inserción.
func sortedUnits(pieces []domain.Piece) []domain.ExpandedPiece {
	units := domain.Expand(pieces)
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].Area() > units[j].Area()
	})
	return units
}

// sortedStocks devuelve una copia del stock ordenada por área descendente,
// estable respecto al orden de entrada.
func sortedStocks(stocks []domain.Stock) []domain.Stock {
	out := make([]domain.Stock, len(stocks))
	copy(out, stocks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Area() > out[j].Area()
	})
	return out
}

// pieceOrder conserva el orden de entrada de los ids originales para que
// unplacedPieces salga siempre en el mismo orden.
func pieceOrder(pieces []domain.Piece) []string {
	seen := make(map[string]bool, len(pieces))
	order := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if !seen[p.ID] {
			seen[p.ID] = true
			order = append(order, p.ID)
		}
	}
	return order
}

// ledger contabiliza el presupuesto de unidades consumidas por stock id.
type ledger struct {
	used map[string]int
}

func newLedger() *ledger {
	return &ledger{used: make(map[string]int)}
}

// take consume una unidad del stock si queda presupuesto.
func (l *ledger) take(s domain.Stock) bool {
	if l.used[s.ID] >= s.Available {
		return false
	}
	l.used[s.ID]++
	return true
}

// hasBudget comprueba presupuesto sin consumirlo.
func (l *ledger) hasBudget(s domain.Stock) bool {
	return l.used[s.ID] < s.Available
}
