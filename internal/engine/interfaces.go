package engine

import (
	"context"

	"github.com/pauljones0/free-games-bot/internal/models"
	"github.com/pauljones0/free-games-bot/internal/source"
)

// Ledger abstracts the durable giveaway store.
type Ledger interface {
	Lock(title string) (unlock func())
	Find(title string) (models.GiveawayRecord, bool)
	Upsert(ctx context.Context, rec models.GiveawayRecord) error
	Remove(ctx context.Context, title string) error
	Snapshot() []models.GiveawayRecord
}

// Sink abstracts the notification layer.
type Sink interface {
	Create(ctx context.Context, n models.Notification) (*models.NotificationHandle, error)
	Update(ctx context.Context, h models.NotificationHandle, n models.Notification) error
	Delete(ctx context.Context, h models.NotificationHandle) error
}

// Feed abstracts the configured sources.
type Feed interface {
	FetchAll(ctx context.Context) []source.Result
	Fetch(ctx context.Context, name models.Source) ([]models.LiveOffer, error)
	LivenessChecker(name models.Source) (source.LivenessChecker, bool)
}
