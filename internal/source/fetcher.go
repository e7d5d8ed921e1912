package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/free-games-bot/internal/logging"
	"github.com/pauljones0/free-games-bot/internal/merger"
	"github.com/pauljones0/free-games-bot/internal/models"
	"github.com/pauljones0/free-games-bot/internal/validator"
)

const defaultConcurrency = 4

// Result is what one source produced in a cycle. A non-nil Err means the
// source was not observed this cycle; Offers is then empty.
type Result struct {
	Source models.Source
	Offers []models.LiveOffer
	Err    error
}

// Fetcher runs the configured sources with a bounded fan-out, one task per
// source or per region, and a timeout on every task.
type Fetcher struct {
	sources   []Source
	timeout   time.Duration
	limit     int
	validator *validator.Validator
}

func NewFetcher(timeout time.Duration, sources ...Source) *Fetcher {
	return &Fetcher{
		sources:   sources,
		timeout:   timeout,
		limit:     defaultConcurrency,
		validator: validator.New(),
	}
}

// Lookup returns the configured source with the given name.
func (f *Fetcher) Lookup(name models.Source) (Source, bool) {
	for _, s := range f.sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// LivenessChecker returns the liveness capability of a source, if it has one.
func (f *Fetcher) LivenessChecker(name models.Source) (LivenessChecker, bool) {
	s, ok := f.Lookup(name)
	if !ok {
		return nil, false
	}
	lc, ok := s.(LivenessChecker)
	return lc, ok
}

// FetchAll fetches every source concurrently and returns one Result per
// source, in configured order. It never fails as a whole.
func (f *Fetcher) FetchAll(ctx context.Context) []Result {
	var g errgroup.Group
	g.SetLimit(f.limit)

	collect := make([]func() Result, len(f.sources))
	for i, s := range f.sources {
		collect[i] = f.schedule(ctx, &g, s)
	}
	_ = g.Wait()

	results := make([]Result, len(collect))
	for i, c := range collect {
		results[i] = c()
		if results[i].Err != nil {
			logging.FromContext(ctx).Warn("Source fetch failed", "source", results[i].Source, "error", results[i].Err)
			continue
		}
		logging.FromContext(ctx).Info("Fetched offers", "source", results[i].Source, "count", len(results[i].Offers))
	}
	return results
}

// Fetch fetches a single source through the same pipeline as FetchAll.
func (f *Fetcher) Fetch(ctx context.Context, name models.Source) ([]models.LiveOffer, error) {
	s, ok := f.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	var g errgroup.Group
	g.SetLimit(f.limit)
	collect := f.schedule(ctx, &g, s)
	_ = g.Wait()

	res := collect()
	return res.Offers, res.Err
}

// schedule queues the fetch tasks for s on g and returns a func that assembles
// the Result once g has been waited on.
func (f *Fetcher) schedule(ctx context.Context, g *errgroup.Group, s Source) func() Result {
	name := s.Name()

	regional, ok := s.(RegionalSource)
	if !ok {
		var offers []models.LiveOffer
		var err error
		g.Go(func() error {
			offers, err = f.run(ctx, s.Fetch)
			return nil
		})
		return func() Result {
			if err != nil {
				return Result{Source: name, Err: err}
			}
			return Result{Source: name, Offers: f.keepValid(ctx, name, offers)}
		}
	}

	primary, reference := regional.Regions()
	var primaryOffers, referenceOffers []models.LiveOffer
	var primaryErr, referenceErr error
	g.Go(func() error {
		primaryOffers, primaryErr = f.run(ctx, func(ctx context.Context) ([]models.LiveOffer, error) {
			return regional.FetchRegion(ctx, primary)
		})
		return nil
	})
	g.Go(func() error {
		referenceOffers, referenceErr = f.run(ctx, func(ctx context.Context) ([]models.LiveOffer, error) {
			return regional.FetchRegion(ctx, reference)
		})
		return nil
	})

	return func() Result {
		// Both regions are needed: a one-sided merge would mislabel availability.
		if err := errors.Join(primaryErr, referenceErr); err != nil {
			return Result{Source: name, Err: err}
		}
		merged := merger.Merge(
			merger.RegionOffers{Region: primary, Offers: primaryOffers},
			merger.RegionOffers{Region: reference, Offers: referenceOffers},
		)
		return Result{Source: name, Offers: f.keepValid(ctx, name, merged)}
	}
}

func (f *Fetcher) run(ctx context.Context, fetch func(context.Context) ([]models.LiveOffer, error)) ([]models.LiveOffer, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return fetch(ctx)
}

func (f *Fetcher) keepValid(ctx context.Context, name models.Source, offers []models.LiveOffer) []models.LiveOffer {
	valid := make([]models.LiveOffer, 0, len(offers))
	for _, o := range offers {
		if err := f.validator.ValidateOffer(o); err != nil {
			logging.FromContext(ctx).Warn("Dropping invalid offer", "source", name, "title", o.Title, "error", err)
			continue
		}
		valid = append(valid, o)
	}
	return valid
}
