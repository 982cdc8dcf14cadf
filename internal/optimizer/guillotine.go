package optimizer

// guillotine.go — colocación por guillotina con rectángulos libres.
//
// Cada hoja activa mantiene un conjunto de rectángulos libres. La pieza se
// coloca en el rectángulo con mejor ajuste de lado corto (Best-Short-Side-
// Fit) y el rectángulo elegido se parte con un corte de guillotina en dos
// restos: derecho (altura completa) y superior (ancho de la pieza + kerf).
// Restos con ancho o alto ≤ kerf se descartan: no cabe nada útil en ellos.

import (
	"context"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// Guillotine implementa 2D_GUILLOTINE.
type Guillotine struct{}

func (Guillotine) Name() string             { return Algo2DGuillotine }
func (Guillotine) Type() domain.ProblemType { return domain.Problem2D }

// gSheet es una plancha activa con su conjunto de rectángulos libres.
type gSheet struct {
	stockID    string
	width      float64
	height     float64
	placements []domain.Placement
	freeRects  []domain.Rect
}

func (Guillotine) Optimize(ctx context.Context, pieces []domain.Piece, stocks []domain.Stock, opts domain.Options) (*domain.OptimizationResult, error) {
	if len(pieces) == 0 || len(stocks) == 0 {
		return domain.EmptyResult(), nil
	}
	if err := domain.ValidatePieces(pieces, domain.Problem2D); err != nil {
		return nil, err
	}
	if err := domain.ValidateStocks(stocks, domain.Problem2D); err != nil {
		return nil, err
	}

	units := sortedUnits(pieces)
	pool := sortedStocks(stocks)
	led := newLedger()

	var sheets []*gSheet
	unplaced := make(map[string]int)

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			partial := domain.Finalize(assembleGuillotine(sheets), unplaced, pieceOrder(pieces))
			partial.Success = false
			return partial, err
		}

		orients := domain.Orientations(unit, opts.AllowRotation)

		placed := false
		for _, sh := range sheets {
			for _, o := range orients {
				if sh.insert(unit, o, opts.Kerf) {
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if placed {
			continue
		}

		// Abrir hoja nueva: el rectángulo libre inicial es la hoja entera y
		// la primera colocación lo parte en sus dos restos.
		if sh := openGSheet(pool, led, orients); sh != nil {
			for _, o := range orients {
				if sh.insert(unit, o, opts.Kerf) {
					sheets = append(sheets, sh)
					placed = true
					break
				}
			}
		}
		if !placed {
			unplaced[unit.OriginalID]++
		}
	}

	return domain.Finalize(assembleGuillotine(sheets), unplaced, pieceOrder(pieces)), nil
}

// insert coloca la pieza en el rectángulo libre con mejor ajuste de lado
// corto. Devuelve false si ningún rectángulo libre la acepta.
func (sh *gSheet) insert(unit domain.ExpandedPiece, o domain.Orientation, kerf float64) bool {
	idx := sh.bestShortSideFit(o.W, o.H, kerf)
	if idx < 0 {
		return false
	}

	fr := sh.freeRects[idx]
	sh.placements = append(sh.placements, domain.Placement{
		PieceID:     unit.UnitID,
		OrderItemID: unit.OrderItem,
		X:           fr.X,
		Y:           fr.Y,
		Width:       o.W,
		Height:      o.H,
		Rotated:     o.Rotated,
	})

	// Corte de guillotina: resto derecho a altura completa y resto superior
	// sobre la pieza (+kerf consumido por la sierra).
	sh.freeRects = append(sh.freeRects[:idx], sh.freeRects[idx+1:]...)
	right := domain.Rect{
		X: fr.X + o.W + kerf,
		Y: fr.Y,
		W: fr.W - o.W - kerf,
		H: fr.H,
	}
	top := domain.Rect{
		X: fr.X,
		Y: fr.Y + o.H + kerf,
		W: o.W + kerf,
		H: fr.H - o.H - kerf,
	}
	if right.W > kerf && right.H > kerf {
		sh.freeRects = append(sh.freeRects, right)
	}
	if top.W > kerf && top.H > kerf {
		sh.freeRects = append(sh.freeRects, top)
	}
	return true
}

// bestShortSideFit devuelve el índice del rectángulo libre que minimiza
// min(freeW−w−kerf, freeH−h−kerf), o -1 si la pieza no cabe en ninguno.
// Empate: el rectángulo más abajo y después más a la izquierda.
func (sh *gSheet) bestShortSideFit(w, h, kerf float64) int {
	bestIdx := -1
	bestScore := 0.0
	for i, fr := range sh.freeRects {
		if w > fr.W || h > fr.H {
			continue
		}
		score := min(fr.W-w-kerf, fr.H-h-kerf)
		if bestIdx < 0 || score < bestScore {
			bestIdx = i
			bestScore = score
			continue
		}
		if score == bestScore {
			cur := sh.freeRects[bestIdx]
			if fr.Y < cur.Y || (fr.Y == cur.Y && fr.X < cur.X) {
				bestIdx = i
			}
		}
	}
	return bestIdx
}

// openGSheet abre una plancha nueva si alguna orientación cabe en un stock
// con presupuesto.
func openGSheet(stocks []domain.Stock, led *ledger, orients []domain.Orientation) *gSheet {
	for _, s := range stocks {
		if !led.hasBudget(s) {
			continue
		}
		for _, o := range orients {
			if o.W <= s.Width && o.H <= s.Height {
				led.take(s)
				return &gSheet{
					stockID:   s.ID,
					width:     s.Width,
					height:    s.Height,
					freeRects: []domain.Rect{{X: 0, Y: 0, W: s.Width, H: s.Height}},
				}
			}
		}
	}
	return nil
}

func assembleGuillotine(sheets []*gSheet) []domain.SheetLayout {
	out := make([]domain.SheetLayout, 0, len(sheets))
	for _, sh := range sheets {
		out = append(out, domain.SheetLayout{
			StockID:    sh.stockID,
			Width:      sh.width,
			Height:     sh.height,
			Placements: sh.placements,
			FreeRects:  sh.freeRects,
		})
	}
	return out
}
