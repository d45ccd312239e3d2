package ports

import (
	"context"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// PortfolioStore loads a partition at start and saves it after every mutation.
type PortfolioStore interface {
	// Load returns (nil, nil) if no document exists yet for the partition.
	Load(ctx context.Context, name string) (*domain.Portfolio, error)
	Save(ctx context.Context, p *domain.Portfolio) error
}

// Journal mirrors closed trades and capital samples into a queryable store.
type Journal interface {
	RecordClose(ctx context.Context, partition string, pos domain.Position) error
	RecordCapital(ctx context.Context, partition string, point domain.CapitalPoint) error
	Close() error
}
