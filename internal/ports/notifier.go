package ports

import (
	"context"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// Notifier recibe el resultado de cada ciclo del engine.
// En consola imprime una línea compacta; en métricas actualiza gauges.
type Notifier interface {
	NotifyCycle(ctx context.Context, report domain.CycleReport) error
}
