package models

import "time"

// NotificationKind says which lifecycle transition a notification announces.
type NotificationKind string

const (
	NotificationNew     NotificationKind = "new"
	NotificationUpdated NotificationKind = "updated"
	NotificationEnded   NotificationKind = "ended"
)

// Notification is the content handed to the sink. Rendering is up to the sink.
type Notification struct {
	Kind            NotificationKind
	Title           string
	Source          Source
	Status          Status
	PostType        PostType
	StartDate       time.Time
	EndDate         time.Time
	Prices          Prices
	DiscountPercent int
	Regions         []Region
	ImageURL        string
	PageURL         string
	Publisher       string
	Description     string
}

// OfferNotification describes a new or updated offer.
func OfferNotification(kind NotificationKind, offer LiveOffer, postType PostType) Notification {
	return Notification{
		Kind:            kind,
		Title:           offer.Title,
		Source:          offer.Source,
		Status:          offer.Status,
		PostType:        postType,
		StartDate:       offer.StartDate,
		EndDate:         offer.EndDate,
		Prices:          offer.Prices.Clone(),
		DiscountPercent: offer.DiscountPercent,
		Regions:         offer.Regions,
		ImageURL:        offer.ImageURL,
		PageURL:         offer.PageURL,
		Publisher:       offer.Publisher,
		Description:     offer.Description,
	}
}

// EndedNotification announces that a recorded giveaway is over.
func EndedNotification(rec GiveawayRecord) Notification {
	return Notification{
		Kind:      NotificationEnded,
		Title:     rec.Title,
		Source:    rec.SourceRef.Source,
		Status:    StatusEnded,
		PostType:  rec.PostType,
		StartDate: rec.StartDate,
		EndDate:   rec.EndDate,
		Prices:    rec.Prices.Clone(),
		PageURL:   rec.PageURL,
	}
}
