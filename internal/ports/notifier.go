package ports

import (
	"context"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// Notifier publica el plan de corte resultante hacia el exterior (consola,
// dashboard...). Los fallos de notificación no abortan el escenario.
type Notifier interface {
	NotifyPlan(ctx context.Context, plan *domain.CuttingPlan) error
}
