package domain

// Placement es el átomo de salida: una unidad colocada sobre una hoja o
// barra. En 1D, Y es 0 y Height es la sección constante de la barra.
type Placement struct {
	PieceID     string  `json:"pieceId"`
	OrderItemID string  `json:"orderItemId,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Rotated     bool    `json:"rotated"`
}

// Rect devuelve el rectángulo ocupado por la colocación.
func (p Placement) Rect() Rect {
	return Rect{X: p.X, Y: p.Y, W: p.Width, H: p.Height}
}

// SheetLayout es una hoja (o barra) usada con sus colocaciones.
// FreeRects solo existe para estrategias de guillotina.
type SheetLayout struct {
	StockID    string      `json:"stockId"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	Placements []Placement `json:"placements"`
	FreeRects  []Rect      `json:"freeRects,omitempty"`
}

// UsedArea suma el área de las colocaciones de la hoja. El kerf no cuenta
// como área usada: es material que la sierra convierte en viruta.
func (s SheetLayout) UsedArea() float64 {
	total := 0.0
	for _, p := range s.Placements {
		if p.Height <= 0 {
			total += p.Width
			continue
		}
		total += p.Width * p.Height
	}
	return total
}

// StockArea devuelve el área total de la hoja (longitud en 1D).
func (s SheetLayout) StockArea() float64 {
	if s.Height <= 0 {
		return s.Width
	}
	return s.Width * s.Height
}

// UnplacedPiece acumula cuántas unidades de una pieza original no cupieron.
type UnplacedPiece struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// Statistics son los agregados del resultado.
type Statistics struct {
	TotalPieces    int     `json:"totalPieces"`
	TotalStockArea float64 `json:"totalStockArea"`
	TotalUsedArea  float64 `json:"totalUsedArea"`
	Efficiency     float64 `json:"efficiency"`
}

// OptimizationResult es la salida completa de una estrategia.
// Conservación: TotalStockArea = TotalUsedArea + TotalWasteArea.
type OptimizationResult struct {
	Success              bool            `json:"success"`
	Sheets               []SheetLayout   `json:"sheets"`
	TotalWasteArea       float64         `json:"totalWasteArea"`
	TotalWastePercentage float64         `json:"totalWastePercentage"`
	StockUsedCount       int             `json:"stockUsedCount"`
	UnplacedPieces       []UnplacedPiece `json:"unplacedPieces"`
	Statistics           Statistics      `json:"statistics"`
}

// EmptyResult es el resultado canónico para entradas vacías.
func EmptyResult() *OptimizationResult {
	return &OptimizationResult{
		Success:        false,
		Sheets:         nil,
		UnplacedPieces: nil,
	}
}

// Finalize calcula los agregados a partir de las hojas y las piezas no
// colocadas. Success es true solo cuando todas las unidades cupieron.
func Finalize(sheets []SheetLayout, unplaced map[string]int, order []string) *OptimizationResult {
	res := &OptimizationResult{Sheets: sheets, StockUsedCount: len(sheets)}

	placed := 0
	for _, sh := range sheets {
		placed += len(sh.Placements)
		res.Statistics.TotalStockArea += sh.StockArea()
		res.Statistics.TotalUsedArea += sh.UsedArea()
	}
	res.TotalWasteArea = res.Statistics.TotalStockArea - res.Statistics.TotalUsedArea

	// Orden determinista: mismo orden que las piezas de entrada.
	totalUnplaced := 0
	for _, id := range order {
		if qty := unplaced[id]; qty > 0 {
			res.UnplacedPieces = append(res.UnplacedPieces, UnplacedPiece{ID: id, Quantity: qty})
			totalUnplaced += qty
		}
	}

	res.Statistics.TotalPieces = placed
	if res.Statistics.TotalStockArea > 0 {
		res.Statistics.Efficiency = res.Statistics.TotalUsedArea / res.Statistics.TotalStockArea * 100
		res.TotalWastePercentage = res.TotalWasteArea / res.Statistics.TotalStockArea * 100
	}
	res.Success = totalUnplaced == 0 && placed > 0
	return res
}
