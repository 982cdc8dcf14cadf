package optimizer

// bfd.go — Best-Fit-Decreasing para corte de barras.
//
// Igual que FFD pero eligiendo la barra que deja MENOS sobrante tras colocar
// (ajuste más apretado). Empate: la barra abierta más antigua.

import (
	"context"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// BestFitDecreasing implementa 1D_BFD.
type BestFitDecreasing struct{}

func (BestFitDecreasing) Name() string             { return Algo1DBFD }
func (BestFitDecreasing) Type() domain.ProblemType { return domain.Problem1D }

func (BestFitDecreasing) Optimize(ctx context.Context, pieces []domain.Piece, stocks []domain.Stock, opts domain.Options) (*domain.OptimizationResult, error) {
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
		if err := ctx.Err(); err != nil {
			partial := domain.Finalize(assembleBars(bars), unplaced, pieceOrder(pieces))
			partial.Success = false
			return partial, err
		}

		// Barra con el sobrante mínimo tras colocar. El recorrido en orden
		// de creación y la comparación estricta (<) resuelven empates a
		// favor de la barra más antigua.
		bestIdx := -1
		bestRemaining := 0.0
		for i, b := range bars {
			rem := b.remainingAfter(unit.Width, opts.Kerf)
			if rem < 0 {
				continue
			}
			if bestIdx < 0 || rem < bestRemaining {
				bestIdx = i
				bestRemaining = rem
			}
		}
		if bestIdx >= 0 {
			bars[bestIdx].place(unit, opts.Kerf)
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
