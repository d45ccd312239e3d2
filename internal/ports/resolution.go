package ports

import (
	"context"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// ResolutionSource reports whether an expired market has formally resolved.
type ResolutionSource interface {
	FetchResolution(ctx context.Context, marketID string) (domain.Resolution, error)
}

// SlugProvider looks up the display slug of a market. Used only for
// best-effort enrichment.
type SlugProvider interface {
	FetchSlug(ctx context.Context, marketID string) (string, error)
}
