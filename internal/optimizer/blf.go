package optimizer

// blf.go — Bottom-Left-Fill para planchas.
//
// Búsqueda de posición por candidatos de esquina en lugar de barrido por
// píxel: el origen más, por cada colocación existente, su borde derecho,
// su borde superior y su esquina superior-derecha (desplazados +kerf).
// Los candidatos se recorren ordenados por (y, x) y gana el primero válido.
// La orientación normal tiene preferencia sobre la rotada: solo se intenta
// rotar cuando la pieza no cabe sin rotar en ninguna posición de la hoja.

import (
	"context"
	"sort"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// BottomLeftFill implementa 2D_BOTTOM_LEFT.
type BottomLeftFill struct{}

func (BottomLeftFill) Name() string             { return Algo2DBottomLeft }
func (BottomLeftFill) Type() domain.ProblemType { return domain.Problem2D }

// blfSheet es una plancha abierta durante la colocación BLF.
type blfSheet struct {
	stockID    string
	width      float64
	height     float64
	placements []domain.Placement
}

func (BottomLeftFill) Optimize(ctx context.Context, pieces []domain.Piece, stocks []domain.Stock, opts domain.Options) (*domain.OptimizationResult, error) {
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

	var sheets []*blfSheet
	unplaced := make(map[string]int)

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			partial := domain.Finalize(assembleBLF(sheets), unplaced, pieceOrder(pieces))
			partial.Success = false
			return partial, err
		}

		orients := domain.Orientations(unit, opts.AllowRotation)

		placed := false
		for _, sh := range sheets {
			for _, o := range orients {
				if pos, ok := findBottomLeft(sh, o.W, o.H, opts.Kerf); ok {
					sh.placements = append(sh.placements, domain.Placement{
						PieceID:     unit.UnitID,
						OrderItemID: unit.OrderItem,
						X:           pos.X,
						Y:           pos.Y,
						Width:       o.W,
						Height:      o.H,
						Rotated:     o.Rotated,
					})
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

		// Ninguna hoja abierta acepta la pieza: abrir hoja nueva del primer
		// stock (área descendente) con presupuesto donde quepa alguna
		// orientación.
		if sh, o := openBLFSheet(pool, led, orients); sh != nil {
			sh.placements = append(sh.placements, domain.Placement{
				PieceID:     unit.UnitID,
				OrderItemID: unit.OrderItem,
				X:           0,
				Y:           0,
				Width:       o.W,
				Height:      o.H,
				Rotated:     o.Rotated,
			})
			sheets = append(sheets, sh)
			continue
		}
		unplaced[unit.OriginalID]++
	}

	return domain.Finalize(assembleBLF(sheets), unplaced, pieceOrder(pieces)), nil
}

// candidate es una posición de esquina donde intentar la colocación.
type candidate struct{ X, Y float64 }

// findBottomLeft busca la posición más baja y después más a la izquierda
// donde un rectángulo w×h cabe en la hoja sin colisionar con lo ya colocado.
func findBottomLeft(sh *blfSheet, w, h, kerf float64) (candidate, bool) {
	cands := cornerCandidates(sh.placements, kerf)
	for _, c := range cands {
		r := domain.Rect{X: c.X, Y: c.Y, W: w, H: h}
		if !r.FitsIn(sh.width, sh.height) {
			continue
		}
		if collides(r, sh.placements, kerf) {
			continue
		}
		return c, true
	}
	return candidate{}, false
}

// cornerCandidates genera el conjunto de posiciones candidatas: el origen
// más los bordes derecho/superior (+kerf) y la esquina superior-derecha de
// cada colocación, ordenados por (y asc, x asc) sin duplicados.
func cornerCandidates(placements []domain.Placement, kerf float64) []candidate {
	cands := make([]candidate, 0, 1+len(placements)*3)
	cands = append(cands, candidate{0, 0})
	for _, p := range placements {
		cands = append(cands,
			candidate{p.X + p.Width + kerf, p.Y},
			candidate{p.X, p.Y + p.Height + kerf},
			candidate{p.X + p.Width + kerf, p.Y + p.Height + kerf},
		)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Y != cands[j].Y {
			return cands[i].Y < cands[j].Y
		}
		return cands[i].X < cands[j].X
	})
	out := cands[:0]
	for i, c := range cands {
		if i > 0 && c == cands[i-1] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// collides comprueba colisión contra las colocaciones existentes. Ambos
// rectángulos se inflan +kerf por derecha/arriba, de modo que dos piezas en
// la misma hoja siempre quedan separadas al menos un kerf.
func collides(r domain.Rect, placements []domain.Placement, kerf float64) bool {
	inflated := r.Inflate(kerf)
	for _, p := range placements {
		if domain.Overlap(inflated, p.Rect().Inflate(kerf)) {
			return true
		}
	}
	return false
}

// openBLFSheet abre una plancha nueva para la primera orientación que quepa.
func openBLFSheet(stocks []domain.Stock, led *ledger, orients []domain.Orientation) (*blfSheet, domain.Orientation) {
	for _, s := range stocks {
		if !led.hasBudget(s) {
			continue
		}
		for _, o := range orients {
			if o.W <= s.Width && o.H <= s.Height {
				led.take(s)
				return &blfSheet{stockID: s.ID, width: s.Width, height: s.Height}, o
			}
		}
	}
	return nil, domain.Orientation{}
}

func assembleBLF(sheets []*blfSheet) []domain.SheetLayout {
	out := make([]domain.SheetLayout, 0, len(sheets))
	for _, sh := range sheets {
		out = append(out, domain.SheetLayout{
			StockID:    sh.stockID,
			Width:      sh.width,
			Height:     sh.height,
			Placements: sh.placements,
		})
	}
	return out
}
