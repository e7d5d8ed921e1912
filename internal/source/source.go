// Package source defines the store adapters the engine polls and the fetcher
// that runs them concurrently each cycle.
package source

import (
	"context"

	"github.com/pauljones0/free-games-bot/internal/models"
)

// Source fetches the giveaways a store currently reports.
type Source interface {
	Name() models.Source
	Fetch(ctx context.Context) ([]models.LiveOffer, error)
}

// RegionalSource is a Source whose offers differ per region. The fetcher
// queries both regions concurrently and merges them instead of calling Fetch.
type RegionalSource interface {
	Source
	Regions() (primary, reference models.Region)
	FetchRegion(ctx context.Context, region models.Region) ([]models.LiveOffer, error)
}

// LivenessChecker is implemented by sources that can re-query a single
// giveaway by its external id. Records from sources without it end by date.
type LivenessChecker interface {
	CheckLiveness(ctx context.Context, externalID string) (bool, error)
}
