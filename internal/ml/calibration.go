package ml

// calibration.go — calibración de confianzas crudas.
//
// Tres mapeos clásicos ajustados sobre predicciones históricas etiquetadas:
// Platt (sigmoide con pendiente y sesgo), temperature scaling (un único
// parámetro sobre el logit) e isotónica (pool-adjacent-violators). El
// mapeo se aplica en lectura; el ajuste es un proceso batch determinista.

import (
	"math"
	"sort"
)

// Sample es una confianza cruda con su resultado real binario.
type Sample struct {
	Confidence float64
	Outcome    bool
}

// Calibrator mapea una confianza cruda a una calibrada en [0, 1].
type Calibrator interface {
	Calibrate(raw float64) float64
}

// clamp01 confina la probabilidad a (ε, 1−ε) para evitar logits infinitos.
func clamp01(p float64) float64 {
	const eps = 1e-6
	return math.Min(1-eps, math.Max(eps, p))
}

func logit(p float64) float64 {
	p = clamp01(p)
	return math.Log(p / (1 - p))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// --- Platt ---

// Platt es el mapeo sigmoide p' = σ(a·logit(p) + b).
type Platt struct {
	A, B float64
}

func (c Platt) Calibrate(raw float64) float64 {
	return sigmoid(c.A*logit(raw) + c.B)
}

// FitPlatt ajusta a y b por descenso de gradiente sobre la log-loss.
// Iteraciones y paso fijos: mismo dataset → mismos parámetros.
func FitPlatt(samples []Sample) Platt {
	a, b := 1.0, 0.0
	if len(samples) == 0 {
		return Platt{A: a, B: b}
	}
	const (
		iterations = 500
		lr         = 0.1
	)
	n := float64(len(samples))
	for it := 0; it < iterations; it++ {
		gradA, gradB := 0.0, 0.0
		for _, s := range samples {
			z := logit(s.Confidence)
			p := sigmoid(a*z + b)
			y := 0.0
			if s.Outcome {
				y = 1.0
			}
			gradA += (p - y) * z
			gradB += p - y
		}
		a -= lr * gradA / n
		b -= lr * gradB / n
	}
	return Platt{A: a, B: b}
}

// --- Temperature ---

// Temperature divide el logit por T: T>1 suaviza, T<1 agudiza.
type Temperature struct {
	T float64
}

func (c Temperature) Calibrate(raw float64) float64 {
	if c.T <= 0 {
		return clamp01(raw)
	}
	return sigmoid(logit(raw) / c.T)
}

// FitTemperature busca la T que minimiza la log-loss con búsqueda ternaria
// en [0.05, 20].
func FitTemperature(samples []Sample) Temperature {
	if len(samples) == 0 {
		return Temperature{T: 1}
	}
	nll := func(t float64) float64 {
		total := 0.0
		for _, s := range samples {
			p := clamp01(sigmoid(logit(s.Confidence) / t))
			if s.Outcome {
				total -= math.Log(p)
			} else {
				total -= math.Log(1 - p)
			}
		}
		return total
	}
	lo, hi := 0.05, 20.0
	for i := 0; i < 100; i++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		if nll(m1) < nll(m2) {
			hi = m2
		} else {
			lo = m1
		}
	}
	return Temperature{T: (lo + hi) / 2}
}

// --- Isotónica ---

// Isotonic es la regresión isotónica ajustada con pool-adjacent-violators:
// una función escalonada monótona no decreciente.
type Isotonic struct {
	// thresholds y values definen los escalones, ordenados por threshold.
	Thresholds []float64
	Values     []float64
}

func (c Isotonic) Calibrate(raw float64) float64 {
	if len(c.Thresholds) == 0 {
		return clamp01(raw)
	}
	// Último escalón cuyo umbral no supera la confianza cruda.
	idx := sort.SearchFloat64s(c.Thresholds, raw)
	if idx >= len(c.Thresholds) {
		idx = len(c.Thresholds) - 1
	} else if idx > 0 && c.Thresholds[idx] > raw {
		idx--
	}
	return c.Values[idx]
}

// FitIsotonic ajusta la escalera con PAV sobre las muestras ordenadas por
// confianza cruda.
func FitIsotonic(samples []Sample) Isotonic {
	if len(samples) == 0 {
		return Isotonic{}
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence < sorted[j].Confidence
	})

	type block struct {
		sum    float64
		weight float64
		minX   float64
	}
	blocks := make([]block, 0, len(sorted))
	for _, s := range sorted {
		y := 0.0
		if s.Outcome {
			y = 1.0
		}
		blocks = append(blocks, block{sum: y, weight: 1, minX: s.Confidence})
		// Fusionar mientras haya violación de monotonía.
		for len(blocks) >= 2 {
			last := blocks[len(blocks)-1]
			prev := blocks[len(blocks)-2]
			if prev.sum/prev.weight <= last.sum/last.weight {
				break
			}
			merged := block{
				sum:    prev.sum + last.sum,
				weight: prev.weight + last.weight,
				minX:   prev.minX,
			}
			blocks = blocks[:len(blocks)-2]
			blocks = append(blocks, merged)
		}
	}

	iso := Isotonic{
		Thresholds: make([]float64, len(blocks)),
		Values:     make([]float64, len(blocks)),
	}
	for i, b := range blocks {
		iso.Thresholds[i] = b.minX
		iso.Values[i] = b.sum / b.weight
	}
	return iso
}

// --- Métricas de calibración ---

// CalibrationReport resume la calidad de calibración de un modelo.
type CalibrationReport struct {
	ECE            float64 `json:"ece"`
	MCE            float64 `json:"mce"`
	Brier          float64 `json:"brier"`
	SampleCount    int     `json:"sampleCount"`
	WellCalibrated bool    `json:"isWellCalibrated"`
}

// calibrationBins es el número de bins de los diagramas de confiabilidad.
const calibrationBins = 10

// EvaluateCalibration calcula ECE, MCE y Brier con bins uniformes.
// isWellCalibrated ↔ ECE < 0.1.
func EvaluateCalibration(samples []Sample) CalibrationReport {
	rep := CalibrationReport{SampleCount: len(samples)}
	if len(samples) == 0 {
		return rep
	}

	type bin struct {
		confSum float64
		hits    float64
		count   int
	}
	bins := make([]bin, calibrationBins)

	for _, s := range samples {
		idx := int(s.Confidence * calibrationBins)
		if idx >= calibrationBins {
			idx = calibrationBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx].confSum += s.Confidence
		if s.Outcome {
			bins[idx].hits++
		}
		bins[idx].count++

		y := 0.0
		if s.Outcome {
			y = 1.0
		}
		rep.Brier += (s.Confidence - y) * (s.Confidence - y)
	}
	rep.Brier /= float64(len(samples))

	n := float64(len(samples))
	for _, b := range bins {
		if b.count == 0 {
			continue
		}
		avgConf := b.confSum / float64(b.count)
		accuracy := b.hits / float64(b.count)
		gap := math.Abs(avgConf - accuracy)
		rep.ECE += gap * float64(b.count) / n
		if gap > rep.MCE {
			rep.MCE = gap
		}
	}
	rep.WellCalibrated = rep.ECE < 0.1
	return rep
}
