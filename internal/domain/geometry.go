package domain

// geometry.go — operaciones de rectángulos con intervalos semiabiertos.
//
// Convención de kerf: cada colocación existente se infla +kerf por su derecha
// y por arriba (no izquierda/abajo). Modela "el corte consume el ancho de
// sierra después de la pieza". La misma inflación se aplica al partir
// rectángulos libres en guillotina.

// Rect es un rectángulo alineado a ejes con origen abajo-izquierda.
type Rect struct {
	X, Y, W, H float64
}

// Right devuelve la coordenada x del borde derecho.
func (r Rect) Right() float64 { return r.X + r.W }

// Top devuelve la coordenada y del borde superior.
func (r Rect) Top() float64 { return r.Y + r.H }

// Area devuelve el área del rectángulo.
func (r Rect) Area() float64 { return r.W * r.H }

// Overlap comprueba solape entre dos rectángulos con intervalos semiabiertos:
// bordes que solo se tocan NO solapan.
func Overlap(a, b Rect) bool {
	return !(a.Right() <= b.X || b.Right() <= a.X || a.Top() <= b.Y || b.Top() <= a.Y)
}

// Inflate devuelve el rectángulo inflado +kerf por derecha y arriba.
func (r Rect) Inflate(kerf float64) Rect {
	return Rect{X: r.X, Y: r.Y, W: r.W + kerf, H: r.H + kerf}
}

// FitsIn comprueba que el rectángulo cabe dentro de una hoja de w×h:
// x ≥ 0, y ≥ 0, x+w ≤ sheetW, y+h ≤ sheetH.
func (r Rect) FitsIn(sheetW, sheetH float64) bool {
	return r.X >= 0 && r.Y >= 0 && r.Right() <= sheetW && r.Top() <= sheetH
}

// Contains devuelve true si el punto (x, y) cae dentro del rectángulo
// (intervalos semiabiertos).
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.Right() && y >= r.Y && y < r.Top()
}
