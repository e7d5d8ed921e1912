// Package engine reconciles fetched offers against the ledger and decides
// which notifications to send.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pauljones0/free-games-bot/internal/logging"
	"github.com/pauljones0/free-games-bot/internal/models"
	"github.com/pauljones0/free-games-bot/internal/validator"
)

// ErrNoSourceObserved is returned by RunCycle when every source failed to fetch.
var ErrNoSourceObserved = errors.New("no source could be fetched")

type Config struct {
	NotifyTimeout time.Duration
	CheckTimeout  time.Duration
}

type Engine struct {
	ledger    Ledger
	sink      Sink
	feed      Feed
	validator *validator.Validator
	cfg       Config
	now       func() time.Time
}

func New(l Ledger, s Sink, f Feed, cfg Config) *Engine {
	return &Engine{
		ledger:    l,
		sink:      s,
		feed:      f,
		validator: validator.New(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Stats counts what one cycle did.
type Stats struct {
	Ended        int
	Activated    int
	Created      int
	Failed       int
	SourceErrors int
}

// RunCycle fetches every source, then runs ended-detection, activation and
// new-offer discovery in that order. A pass error aborts the remaining passes.
func (e *Engine) RunCycle(ctx context.Context) (Stats, error) {
	var stats Stats

	results := e.feed.FetchAll(ctx)
	observed := make(map[models.Source][]models.LiveOffer, len(results))
	for _, res := range results {
		if res.Err != nil {
			stats.SourceErrors++
			continue
		}
		observed[res.Source] = res.Offers
	}

	ended, err := e.detectEnded(ctx)
	stats.Ended = len(ended)
	if err != nil {
		return stats, fmt.Errorf("ended-detection pass: %w", err)
	}

	activated, err := e.ActivateStarted(ctx, observed)
	stats.Activated = activated
	if err != nil {
		return stats, fmt.Errorf("activation pass: %w", err)
	}

	for _, res := range results {
		if res.Err != nil {
			continue
		}
		created, failed, err := e.discover(ctx, res.Source, res.Offers, ended)
		stats.Created += created
		stats.Failed += failed
		if err != nil {
			return stats, fmt.Errorf("new-offer pass for %s: %w", res.Source, err)
		}
	}

	logging.FromContext(ctx).Info("Cycle finished",
		"ended", stats.Ended,
		"activated", stats.Activated,
		"created", stats.Created,
		"failed", stats.Failed,
		"source_errors", stats.SourceErrors)

	if len(results) > 0 && stats.SourceErrors == len(results) {
		return stats, ErrNoSourceObserved
	}
	return stats, nil
}

// DetectEnded removes every live record whose giveaway is over. Records from
// sources with a liveness check are re-queried; the rest end once now is past
// their end date. A failed re-check leaves the record for the next cycle.
func (e *Engine) DetectEnded(ctx context.Context) (int, error) {
	ended, err := e.detectEnded(ctx)
	return len(ended), err
}

// detectEnded returns the normalized titles it removed.
func (e *Engine) detectEnded(ctx context.Context) (map[string]struct{}, error) {
	now := e.now()
	ended := make(map[string]struct{})
	for _, rec := range e.ledger.Snapshot() {
		if !rec.Status.Live() {
			continue
		}
		over, err := e.isOver(ctx, rec, now)
		if err != nil {
			logging.FromContext(ctx).Warn("Liveness check failed, keeping record", "title", rec.Title, "source", rec.SourceRef.Source, "error", err)
			continue
		}
		if !over {
			continue
		}
		removed, err := e.end(ctx, rec.Title)
		if err != nil {
			return ended, err
		}
		if removed {
			ended[rec.Key()] = struct{}{}
		}
	}
	return ended, nil
}

func (e *Engine) isOver(ctx context.Context, rec models.GiveawayRecord, now time.Time) (bool, error) {
	if checker, ok := e.feed.LivenessChecker(rec.SourceRef.Source); ok && rec.SourceRef.ExternalID != "" {
		cctx, cancel := e.timeout(ctx, e.cfg.CheckTimeout)
		defer cancel()
		live, err := checker.CheckLiveness(cctx, rec.SourceRef.ExternalID)
		if err != nil {
			return false, err
		}
		return !live, nil
	}
	return !rec.EndDate.IsZero() && now.After(rec.EndDate), nil
}

// end retracts the original post, announces the end and removes the record.
// Sink failures are logged; the removal happens regardless.
func (e *Engine) end(ctx context.Context, title string) (bool, error) {
	unlock := e.ledger.Lock(title)
	defer unlock()

	rec, ok := e.ledger.Find(title)
	if !ok || !rec.Status.Live() {
		return false, nil
	}

	if rec.Handle != nil {
		nctx, cancel := e.timeout(ctx, e.cfg.NotifyTimeout)
		err := e.sink.Delete(nctx, *rec.Handle)
		cancel()
		if err != nil {
			logging.FromContext(ctx).Warn("Failed to delete original post", "title", rec.Title, "message_id", rec.Handle.MessageID, "error", err)
		}
	}

	nctx, cancel := e.timeout(ctx, e.cfg.NotifyTimeout)
	_, err := e.sink.Create(nctx, models.EndedNotification(rec))
	cancel()
	if err != nil {
		logging.FromContext(ctx).Warn("Failed to post ended notification", "title", rec.Title, "error", err)
	}

	if err := e.ledger.Remove(ctx, rec.Title); err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	logging.FromContext(ctx).Info("Giveaway ended", "title", rec.Title, "source", rec.SourceRef.Source)
	return true, nil
}

// ActivateStarted promotes upcoming records whose start date has passed and
// that this cycle's feed for their source now reports as active. Sources
// missing from observed were not fetched and are skipped.
func (e *Engine) ActivateStarted(ctx context.Context, observed map[models.Source][]models.LiveOffer) (int, error) {
	now := e.now()
	count := 0
	for _, rec := range e.ledger.Snapshot() {
		if rec.Status != models.StatusUpcoming || rec.StartDate.After(now) {
			continue
		}
		offers, ok := observed[rec.SourceRef.Source]
		if !ok {
			continue
		}
		offer, ok := findOffer(offers, rec.Title)
		if !ok || offer.Status != models.StatusActive {
			continue
		}
		activated, err := e.activate(ctx, offer)
		if err != nil {
			return count, err
		}
		if activated {
			count++
		}
	}
	return count, nil
}

func (e *Engine) activate(ctx context.Context, offer models.LiveOffer) (bool, error) {
	unlock := e.ledger.Lock(offer.Title)
	defer unlock()

	rec, ok := e.ledger.Find(offer.Title)
	if !ok || rec.Status != models.StatusUpcoming {
		return false, nil
	}

	n := models.OfferNotification(models.NotificationUpdated, offer, rec.PostType)
	handle := rec.Handle
	nctx, cancel := e.timeout(ctx, e.cfg.NotifyTimeout)
	if handle != nil {
		if err := e.sink.Update(nctx, *handle, n); err != nil {
			logging.FromContext(ctx).Warn("Failed to update post for started giveaway", "title", rec.Title, "error", err)
		}
	} else {
		h, err := e.sink.Create(nctx, n)
		if err != nil {
			logging.FromContext(ctx).Warn("Failed to post started giveaway", "title", rec.Title, "error", err)
		} else {
			handle = h
		}
	}
	cancel()

	updated := rec
	updated.Status = models.StatusActive
	updated.StartDate = offer.StartDate
	updated.EndDate = offer.EndDate
	updated.Handle = handle
	if offer.Prices != nil {
		updated.Prices = offer.Prices.Clone()
	}
	if offer.PageURL != "" {
		updated.PageURL = offer.PageURL
	}
	if offer.ImageURL != "" {
		updated.ImageURL = offer.ImageURL
	}
	if updated.SourceRef.ExternalID == "" {
		updated.SourceRef.ExternalID = offer.ExternalID
	}

	if err := e.ledger.Upsert(ctx, updated); err != nil {
		return false, fmt.Errorf("failed to activate %q: %w", rec.Title, err)
	}
	logging.FromContext(ctx).Info("Giveaway started", "title", rec.Title, "source", rec.SourceRef.Source)
	return true, nil
}

// DiscoverNew announces every live offer whose title is not in the ledger yet.
// Offers the sink fails to announce are not recorded and come back next cycle.
// Offers whose end date has already passed are ignored.
func (e *Engine) DiscoverNew(ctx context.Context, src models.Source, offers []models.LiveOffer) (created, failed int, err error) {
	return e.discover(ctx, src, offers, nil)
}

// discover skips titles in ended so that a giveaway removed earlier in the
// cycle is not announced again in the same cycle.
func (e *Engine) discover(ctx context.Context, src models.Source, offers []models.LiveOffer, ended map[string]struct{}) (created, failed int, err error) {
	now := e.now()
	for _, offer := range offers {
		if !offer.Status.Live() {
			continue
		}
		if _, skip := ended[models.NormalizeTitle(offer.Title)]; skip {
			logging.FromContext(ctx).Debug("Skipping offer ended this cycle", "source", src, "title", offer.Title)
			continue
		}
		if !offer.EndDate.IsZero() && now.After(offer.EndDate) {
			logging.FromContext(ctx).Debug("Skipping expired offer", "source", src, "title", offer.Title, "end_date", offer.EndDate)
			continue
		}

		_, perr := e.publish(ctx, offer, models.PostTypeAuto)
		switch {
		case perr == nil:
			created++
		case errors.Is(perr, models.ErrAlreadyPosted):
		case errors.Is(perr, models.ErrInvalidOffer):
			logging.FromContext(ctx).Warn("Skipping invalid offer", "source", src, "title", offer.Title, "error", perr)
		case errors.Is(perr, models.ErrNotificationFailed):
			logging.FromContext(ctx).Warn("Failed to announce new giveaway, will retry next cycle", "source", src, "title", offer.Title, "error", perr)
			failed++
		default:
			return created, failed, perr
		}
	}
	return created, failed, nil
}

// PublishManual announces offer on an operator's request. It fails with
// models.ErrAlreadyPosted if the title is already recorded.
func (e *Engine) PublishManual(ctx context.Context, offer models.LiveOffer) (models.GiveawayRecord, error) {
	return e.publish(ctx, offer, models.PostTypeManual)
}

// PublishTitle looks title up in a fresh fetch of src and publishes it manually.
func (e *Engine) PublishTitle(ctx context.Context, src models.Source, title string) (models.GiveawayRecord, error) {
	if _, ok := e.ledger.Find(title); ok {
		return models.GiveawayRecord{}, fmt.Errorf("%w: %q", models.ErrAlreadyPosted, title)
	}
	offers, err := e.feed.Fetch(ctx, src)
	if err != nil {
		return models.GiveawayRecord{}, fmt.Errorf("failed to fetch %s: %w", src, err)
	}
	offer, ok := findOffer(offers, title)
	if !ok {
		return models.GiveawayRecord{}, fmt.Errorf("%w: %q in %s", models.ErrOfferNotFound, title, src)
	}
	return e.PublishManual(ctx, offer)
}

func (e *Engine) publish(ctx context.Context, offer models.LiveOffer, postType models.PostType) (models.GiveawayRecord, error) {
	if err := e.validator.ValidateOffer(offer); err != nil {
		return models.GiveawayRecord{}, err
	}

	unlock := e.ledger.Lock(offer.Title)
	defer unlock()

	if _, exists := e.ledger.Find(offer.Title); exists {
		return models.GiveawayRecord{}, fmt.Errorf("%w: %q", models.ErrAlreadyPosted, offer.Title)
	}

	nctx, cancel := e.timeout(ctx, e.cfg.NotifyTimeout)
	defer cancel()
	handle, err := e.sink.Create(nctx, models.OfferNotification(models.NotificationNew, offer, postType))
	if err != nil {
		return models.GiveawayRecord{}, fmt.Errorf("%w: %q: %w", models.ErrNotificationFailed, offer.Title, err)
	}

	rec := models.NewRecord(offer, postType, e.now().UTC(), handle)
	if err := e.ledger.Upsert(ctx, rec); err != nil {
		// Without a record the next cycle posts again, so retract this post.
		if handle != nil {
			if derr := e.sink.Delete(nctx, *handle); derr != nil {
				logging.FromContext(ctx).Warn("Failed to retract unrecorded post", "title", offer.Title, "error", derr)
			}
		}
		return models.GiveawayRecord{}, fmt.Errorf("failed to record %q: %w", offer.Title, err)
	}

	logging.FromContext(ctx).Info("Giveaway announced", "title", offer.Title, "source", offer.Source, "status", offer.Status, "post_type", postType)
	return rec, nil
}

func (e *Engine) timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func findOffer(offers []models.LiveOffer, title string) (models.LiveOffer, bool) {
	key := models.NormalizeTitle(title)
	for _, o := range offers {
		if models.NormalizeTitle(o.Title) == key {
			return o, true
		}
	}
	return models.LiveOffer{}, false
}
