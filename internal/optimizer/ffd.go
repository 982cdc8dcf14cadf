package optimizer

// ffd.go — First-Fit-Decreasing para corte de barras.
//
// Basado en el nesting clásico de tubos: ordenar cortes de mayor a menor y
// colocar cada uno en la PRIMERA barra abierta donde quepa. Rápido y con
// resultados a un 1-2 bins del óptimo en cargas reales.

import (
	"context"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// FirstFitDecreasing implementa 1D_FFD.
type FirstFitDecreasing struct{}

func (FirstFitDecreasing) Name() string             { return Algo1DFFD }
func (FirstFitDecreasing) Type() domain.ProblemType { return domain.Problem1D }

func (FirstFitDecreasing) Optimize(ctx context.Context, pieces []domain.Piece, stocks []domain.Stock, opts domain.Options) (*domain.OptimizationResult, error) {
	if len(pieces) == 0 || len(stocks) == 0 {
		return domain.EmptyResult(), nil
	}
	if err := domain.ValidatePieces(pieces, domain.Problem1D); err != nil {
		return nil, err
	}
	if err := domain.ValidateStocks(stocks, domain.Problem1D); err != nil {
		return nil, err
	}

	units := sortedUnits(pieces)
	pool := sortedStocks(stocks)
	led := newLedger()

	var bars []*bar
	unplaced := make(map[string]int)

	for _, unit := range units {
		// Punto de cancelación cooperativo: una vez por pieza.
		if err := ctx.Err(); err != nil {
			partial := domain.Finalize(assembleBars(bars), unplaced, pieceOrder(pieces))
			partial.Success = false
			return partial, err
		}

		placed := false
		for _, b := range bars {
			if b.fits(unit.Width, opts.Kerf) {
				b.place(unit, opts.Kerf)
				placed = true
				break
			}
		}
		if placed {
			continue
		}

		if b := openBar(pool, led, unit.Width); b != nil {
			b.place(unit, opts.Kerf)
			bars = append(bars, b)
			continue
		}
		unplaced[unit.OriginalID]++
	}

	return domain.Finalize(assembleBars(bars), unplaced, pieceOrder(pieces)), nil
}
