package domain

import "fmt"

// ExpandedPiece es una unidad individual tras expandir Quantity. Conserva el
// id original para la contabilidad de piezas no colocadas.
type ExpandedPiece struct {
	// UnitID es la identidad compuesta "originalId#index".
	UnitID     string
	OriginalID string
	Width      float64
	Height     float64
	OrderItem  string
	CanRotate  bool
}

// Area devuelve el área de la unidad (longitud en 1D).
func (e ExpandedPiece) Area() float64 {
	if e.Height <= 0 {
		return e.Width
	}
	return e.Width * e.Height
}

// Expand produce una entrada por cada unidad de Quantity, preservando el
// orden de inserción original. La identidad compuesta permite rastrear cada
// unidad de vuelta a su pieza de origen.
func Expand(pieces []Piece) []ExpandedPiece {
	total := 0
	for _, p := range pieces {
		total += p.Quantity
	}
	out := make([]ExpandedPiece, 0, total)
	for _, p := range pieces {
		for i := 0; i < p.Quantity; i++ {
			out = append(out, ExpandedPiece{
				UnitID:     fmt.Sprintf("%s#%d", p.ID, i),
				OriginalID: p.ID,
				Width:      p.Width,
				Height:     p.Height,
				OrderItem:  p.OrderItemID,
				CanRotate:  p.CanRotate,
			})
		}
	}
	return out
}

// Orientation es una de las orientaciones admisibles de una pieza.
type Orientation struct {
	W, H    float64
	Rotated bool
}

// Orientations enumera las orientaciones de una unidad: siempre la normal, y
// la rotada 90° solo cuando rotación está permitida, la pieza lo admite y no
// es cuadrada. La normal va primero (preferencia determinista).
func Orientations(p ExpandedPiece, allowRotation bool) []Orientation {
	out := []Orientation{{W: p.Width, H: p.Height, Rotated: false}}
	if allowRotation && p.CanRotate && p.Width != p.Height {
		out = append(out, Orientation{W: p.Height, H: p.Width, Rotated: true})
	}
	return out
}
