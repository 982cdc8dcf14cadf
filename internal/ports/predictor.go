package ports

import "context"

// Features son las características de entrada de una predicción ML
// (cardinalidad de piezas, áreas, ratios de aspecto...).
type Features map[string]float64

// Prediction es la salida de un predictor. Success=false indica que el
// motor debe degradar con elegancia (fallback al algoritmo del caller).
type Prediction struct {
	PredictionID string
	Success      bool
	// Value es el valor crudo predicho (waste %, segundos...).
	Value float64
	// Algorithm solo se rellena en SelectAlgorithm.
	Algorithm string
	// Confidence está en [0, 1].
	Confidence   float64
	ModelType    string
	ModelVersion string
	// Variant es el brazo de experimento asignado; vacío se registra como
	// control.
	Variant string
}

// Predictor es el puerto del selector ML. La implementación nula permite
// despliegues sin ML.
type Predictor interface {
	// PredictWaste estima el porcentaje de desperdicio esperado.
	PredictWaste(ctx context.Context, f Features) (Prediction, error)

	// SelectAlgorithm recomienda el algoritmo para un escenario.
	SelectAlgorithm(ctx context.Context, f Features) (Prediction, error)

	// PredictTime estima la duración de ejecución en segundos.
	PredictTime(ctx context.Context, f Features) (Prediction, error)
}
