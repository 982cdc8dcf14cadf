package ml

// null.go — predictor nulo para despliegues sin ML. Devuelve siempre
// success=false: el coordinator degrada al algoritmo pedido por el caller.

import (
	"context"

	"github.com/alejandrodnm/opticut/internal/ports"
)

// NullPredictor es la implementación nula del puerto Predictor.
type NullPredictor struct{}

func (NullPredictor) PredictWaste(ctx context.Context, f ports.Features) (ports.Prediction, error) {
	return ports.Prediction{Success: false, ModelType: "waste"}, nil
}

func (NullPredictor) SelectAlgorithm(ctx context.Context, f ports.Features) (ports.Prediction, error) {
	return ports.Prediction{Success: false, ModelType: "algorithm_selection"}, nil
}

func (NullPredictor) PredictTime(ctx context.Context, f ports.Features) (ports.Prediction, error) {
	return ports.Prediction{Success: false, ModelType: "execution_time"}, nil
}
