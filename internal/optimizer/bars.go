package optimizer

// bars.go — estado compartido de las estrategias 1D (FFD y BFD).
//
// Una barra abierta acumula cortes de izquierda a derecha. El kerf solo se
// consume ENTRE piezas, nunca al inicio de la barra: una barra de 1000 con
// kerf 10 acepta tres cortes de 300 en x ∈ {0, 310, 620} (usado = 920).

import (
	"github.com/alejandrodnm/opticut/internal/domain"
)

// bar es una barra abierta durante la optimización 1D.
type bar struct {
	stockID string
	length  float64
	// height es la sección transversal constante de la barra (0 si el
	// stock no la declara).
	height     float64
	used       float64
	placements []domain.Placement
}

// fits comprueba si un corte de longitud w cabe en la barra.
func (b *bar) fits(w, kerf float64) bool {
	if len(b.placements) == 0 {
		return w <= b.length
	}
	return b.used+kerf+w <= b.length
}

// remainingAfter devuelve la longitud sobrante si se colocara un corte de
// longitud w, o -1 si no cabe.
func (b *bar) remainingAfter(w, kerf float64) float64 {
	if !b.fits(w, kerf) {
		return -1
	}
	need := w
	if len(b.placements) > 0 {
		need += kerf
	}
	return b.length - b.used - need
}

// place coloca un corte al final de la barra.
func (b *bar) place(unit domain.ExpandedPiece, kerf float64) {
	x := 0.0
	if len(b.placements) > 0 {
		x = b.used + kerf
	}
	b.placements = append(b.placements, domain.Placement{
		PieceID:     unit.UnitID,
		OrderItemID: unit.OrderItem,
		X:           x,
		Y:           0,
		Width:       unit.Width,
		Height:      b.height,
		Rotated:     false,
	})
	b.used = x + unit.Width
}

// openBar abre una barra nueva del primer stock (orden área descendente) con
// presupuesto disponible y longitud suficiente para el corte. Devuelve nil
// si ningún stock sirve.
func openBar(stocks []domain.Stock, led *ledger, w float64) *bar {
	for _, s := range stocks {
		if s.Width < w || !led.hasBudget(s) {
			continue
		}
		led.take(s)
		return &bar{stockID: s.ID, length: s.Width, height: s.Height}
	}
	return nil
}

// assembleBars convierte las barras abiertas en layouts de salida.
func assembleBars(bars []*bar) []domain.SheetLayout {
	sheets := make([]domain.SheetLayout, 0, len(bars))
	for _, b := range bars {
		sheets = append(sheets, domain.SheetLayout{
			StockID:    b.stockID,
			Width:      b.length,
			Height:     b.height,
			Placements: b.placements,
		})
	}
	return sheets
}
