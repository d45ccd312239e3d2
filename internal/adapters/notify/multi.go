package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
)

// Multi reparte cada ciclo a varios notifiers. Un fallo no corta al resto.
type Multi []ports.Notifier

func (m Multi) NotifyCycle(ctx context.Context, r domain.CycleReport) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyCycle(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
