package domain

import "fmt"

// ProblemType distingue optimización de barras (1D) y de planchas (2D).
type ProblemType string

const (
	Problem1D ProblemType = "1D"
	Problem2D ProblemType = "2D"
)

// Piece es una pieza demandada, inmutable durante la optimización.
// En 1D Height no se usa y Width es la longitud de corte.
type Piece struct {
	ID          string  `json:"id"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Quantity    int     `json:"quantity"`
	OrderItemID string  `json:"orderItemId,omitempty"`
	CanRotate   bool    `json:"canRotate"`
}

// Area devuelve el área de la pieza (en 1D equivale a la longitud).
func (p Piece) Area() float64 {
	if p.Height <= 0 {
		return p.Width
	}
	return p.Width * p.Height
}

// Stock es una barra o plancha disponible. Available es el presupuesto
// entero de unidades consumibles de este tamaño.
type Stock struct {
	ID        string  `json:"id"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Available int     `json:"available"`
}

// Area devuelve el área del stock (en 1D equivale a la longitud de barra).
func (s Stock) Area() float64 {
	if s.Height <= 0 {
		return s.Width
	}
	return s.Width * s.Height
}

// Options controla kerf (ancho de sierra) y rotación para una ejecución.
type Options struct {
	Kerf          float64 `json:"kerf"`
	AllowRotation bool    `json:"allowRotation"`
}

// ValidatePieces comprueba los invariantes de entrada de las piezas.
// En 1D se permite Height == 0; en 2D ambas dimensiones deben ser > 0.
func ValidatePieces(pieces []Piece, typ ProblemType) error {
	for i, p := range pieces {
		if p.ID == "" {
			return NewError(CodeValidation, fmt.Sprintf("piece[%d]: missing id", i), nil)
		}
		if p.Quantity < 1 {
			return NewError(CodeValidation, fmt.Sprintf("piece %q: quantity must be >= 1", p.ID), nil)
		}
		if p.Width <= 0 {
			return NewError(CodeValidation, fmt.Sprintf("piece %q: width must be > 0", p.ID), nil)
		}
		if typ == Problem2D && p.Height <= 0 {
			return NewError(CodeValidation, fmt.Sprintf("piece %q: height must be > 0", p.ID), nil)
		}
	}
	return nil
}

// ValidateStocks comprueba los invariantes de entrada del stock.
func ValidateStocks(stocks []Stock, typ ProblemType) error {
	for i, s := range stocks {
		if s.ID == "" {
			return NewError(CodeValidation, fmt.Sprintf("stock[%d]: missing id", i), nil)
		}
		if s.Available < 0 {
			return NewError(CodeValidation, fmt.Sprintf("stock %q: available must be >= 0", s.ID), nil)
		}
		if s.Width <= 0 {
			return NewError(CodeValidation, fmt.Sprintf("stock %q: width must be > 0", s.ID), nil)
		}
		if typ == Problem2D && s.Height <= 0 {
			return NewError(CodeValidation, fmt.Sprintf("stock %q: height must be > 0", s.ID), nil)
		}
	}
	return nil
}
