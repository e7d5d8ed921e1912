// Package epic reads the Epic Games Store free-games promotions feed.
package epic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pauljones0/free-games-bot/internal/logging"
	"github.com/pauljones0/free-games-bot/internal/merger"
	"github.com/pauljones0/free-games-bot/internal/models"
	"github.com/pauljones0/free-games-bot/internal/util"
)

const (
	promotionsURL      = "https://store-site-backend-static.ak.epicgames.com/freeGamesPromotions"
	storeURL           = "https://store.epicgames.com/p/"
	userAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxRetries         = 2
	defaultHTTPTimeout = 30 * time.Second
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	locale     string
	primary    models.Region
	reference  models.Region
	retryBase  time.Duration
}

// New returns an Epic client. A non-positive timeout falls back to 30s.
func New(locale string, primary, reference models.Region, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    promotionsURL,
		locale:     locale,
		primary:    primary,
		reference:  reference,
		retryBase:  500 * time.Millisecond,
	}
}

func (c *Client) Name() models.Source { return models.SourceEpic }

func (c *Client) Regions() (models.Region, models.Region) { return c.primary, c.reference }

// Fetch queries both regions one after the other and merges them.
func (c *Client) Fetch(ctx context.Context) ([]models.LiveOffer, error) {
	primary, err := c.FetchRegion(ctx, c.primary)
	if err != nil {
		return nil, err
	}
	reference, err := c.FetchRegion(ctx, c.reference)
	if err != nil {
		return nil, err
	}
	return merger.Merge(
		merger.RegionOffers{Region: c.primary, Offers: primary},
		merger.RegionOffers{Region: c.reference, Offers: reference},
	), nil
}

// FetchRegion returns the free promotions visible from region. Only
// promotions that bring the price to zero are reported.
func (c *Client) FetchRegion(ctx context.Context, region models.Region) ([]models.LiveOffer, error) {
	var resp promotionsResponse
	err := util.RetryWithBackoff(ctx, maxRetries, c.retryBase, func(attempt int) error {
		if attempt > 0 {
			logging.FromContext(ctx).Warn("Retrying Epic promotions fetch", "region", region, "attempt", attempt+1)
		}
		return c.get(ctx, region, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch epic promotions for %s: %w", region, err)
	}

	var offers []models.LiveOffer
	for _, el := range resp.Data.Catalog.SearchStore.Elements {
		if el.Promotions == nil {
			continue
		}
		offers = append(offers, el.offers(el.Promotions.PromotionalOffers, models.StatusActive, region)...)
		offers = append(offers, el.offers(el.Promotions.UpcomingPromotionalOffers, models.StatusUpcoming, region)...)
	}
	return offers, nil
}

func (c *Client) get(ctx context.Context, region models.Region, out *promotionsResponse) error {
	params := url.Values{}
	params.Set("locale", c.locale)
	params.Set("country", string(region))
	params.Set("allowCountries", string(region))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch promotions: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode promotions: %w", err)
	}
	return nil
}
