package models

import (
	"errors"
	"slices"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrAlreadyPosted is returned when a giveaway with the same normalized title is already in the ledger.
	ErrAlreadyPosted = errors.New("giveaway already posted")
	// ErrStatusRegression is returned when an update would move a record backwards in its lifecycle.
	ErrStatusRegression = errors.New("giveaway status cannot regress")
	// ErrRecordNotFound is returned when a ledger lookup finds nothing.
	ErrRecordNotFound = errors.New("giveaway record not found")
	// ErrOfferNotFound is returned when a title is not present in the current feed.
	ErrOfferNotFound = errors.New("offer not found in feed")
	// ErrInvalidOffer marks data-quality failures such as an end date before the start date.
	ErrInvalidOffer = errors.New("invalid offer")
	// ErrNotificationFailed is returned when the sink could not announce a new giveaway.
	ErrNotificationFailed = errors.New("notification failed")
)

// Source identifies the store a giveaway was published by.
type Source string

const (
	SourceEpic  Source = "epic"
	SourceSteam Source = "steam"
)

// Status is the lifecycle state of a giveaway. Sources only ever report
// upcoming or active; ended is decided by the engine.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
)

// Rank orders statuses along the lifecycle. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusUpcoming:
		return 1
	case StatusActive:
		return 2
	case StatusEnded:
		return 3
	}
	return 0
}

// Live reports whether the status is one a source can publish.
func (s Status) Live() bool {
	return s == StatusUpcoming || s == StatusActive
}

// PostType records whether a giveaway was posted by the poll loop or by an operator.
type PostType string

const (
	PostTypeAuto   PostType = "auto"
	PostTypeManual PostType = "manual"
)

// Region is an ISO 3166 country code a store reports availability for.
type Region string

// PriceEntry holds prices in major currency units.
type PriceEntry struct {
	Original float64 `json:"original" firestore:"original"`
	Current  float64 `json:"current" firestore:"current"`
}

// Prices is keyed by ISO 4217 currency code.
type Prices map[string]PriceEntry

// Clone returns an independent copy of p.
func (p Prices) Clone() Prices {
	if p == nil {
		return nil
	}
	out := make(Prices, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// LiveOffer is a giveaway as currently reported by a source. It lives for one cycle.
type LiveOffer struct {
	Title           string    `json:"title" validate:"required"`
	Source          Source    `json:"source" validate:"required,oneof=epic steam"`
	Status          Status    `json:"status" validate:"required,oneof=upcoming active"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	Prices          Prices    `json:"price,omitempty"`
	DiscountPercent int       `json:"discount_percent" validate:"gte=0,lte=100"`
	Regions         []Region  `json:"region_availability,omitempty"`
	ImageURL        string    `json:"image_url,omitempty" validate:"omitempty,url"`
	PageURL         string    `json:"page_url,omitempty" validate:"omitempty,url"`
	Publisher       string    `json:"publisher,omitempty"`
	Description     string    `json:"description,omitempty"`
	ExternalID      string    `json:"external_id,omitempty"`
}

// AvailableIn reports whether the offer can be claimed in region r.
func (o LiveOffer) AvailableIn(r Region) bool {
	return slices.Contains(o.Regions, r)
}

// Clone returns a copy of o that shares no maps or slices with it.
func (o LiveOffer) Clone() LiveOffer {
	o.Prices = o.Prices.Clone()
	o.Regions = slices.Clone(o.Regions)
	return o
}

// NotificationHandle points at a message previously created by the sink.
type NotificationHandle struct {
	ChannelID string `json:"channel_id" firestore:"channelID"`
	MessageID string `json:"message_id" firestore:"messageID"`
}

// SourceRef is what a source needs to re-check a giveaway later.
type SourceRef struct {
	Source     Source `json:"source" firestore:"source"`
	ExternalID string `json:"external_id,omitempty" firestore:"externalID,omitempty"`
}

// GiveawayRecord is the durable ledger entry for a giveaway that has been announced.
type GiveawayRecord struct {
	Title     string              `json:"title" firestore:"title"`
	Status    Status              `json:"status" firestore:"status"`
	StartDate time.Time           `json:"start_date" firestore:"startDate"`
	EndDate   time.Time           `json:"end_date" firestore:"endDate"`
	PostType  PostType            `json:"post_type" firestore:"postType"`
	PostedAt  time.Time           `json:"posted_at" firestore:"postedAt"`
	Handle    *NotificationHandle `json:"notification_handle" firestore:"notificationHandle"`
	SourceRef SourceRef           `json:"source_ref" firestore:"sourceRef"`
	Prices    Prices              `json:"price,omitempty" firestore:"prices,omitempty"`
	PageURL   string              `json:"page_url,omitempty" firestore:"pageURL,omitempty"`
	ImageURL  string              `json:"image_url,omitempty" firestore:"imageURL,omitempty"`
}

// NewRecord builds the ledger entry for a freshly announced offer.
func NewRecord(offer LiveOffer, postType PostType, postedAt time.Time, handle *NotificationHandle) GiveawayRecord {
	return GiveawayRecord{
		Title:     offer.Title,
		Status:    offer.Status,
		StartDate: offer.StartDate,
		EndDate:   offer.EndDate,
		PostType:  postType,
		PostedAt:  postedAt,
		Handle:    handle,
		SourceRef: SourceRef{Source: offer.Source, ExternalID: offer.ExternalID},
		Prices:    offer.Prices.Clone(),
		PageURL:   offer.PageURL,
		ImageURL:  offer.ImageURL,
	}
}

// Key is the normalized title the ledger indexes the record by.
func (r GiveawayRecord) Key() string {
	return NormalizeTitle(r.Title)
}

// NormalizeTitle lower-cases title so that titles differing only in letter
// case compare equal. Spacing and special casings such as ß are kept.
func NormalizeTitle(title string) string {
	return cases.Lower(language.Und).String(title)
}

// WithRegion returns a sorted copy of rs that contains r.
func WithRegion(rs []Region, r Region) []Region {
	out := slices.Clone(rs)
	if !slices.Contains(out, r) {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// WithoutRegion returns a sorted copy of rs without r.
func WithoutRegion(rs []Region, r Region) []Region {
	out := slices.DeleteFunc(slices.Clone(rs), func(x Region) bool { return x == r })
	slices.Sort(out)
	return out
}
