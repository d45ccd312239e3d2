package ports

import (
	"context"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// CrisisSource polls the external crisis signal.
type CrisisSource interface {
	FetchCrisis(ctx context.Context) (domain.Crisis, error)
}
