// Package steam discovers 100%-off promotions on the Steam store and re-checks
// them by app id.
package steam

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/free-games-bot/internal/logging"
	"github.com/pauljones0/free-games-bot/internal/models"
)

const (
	storeURL           = "https://store.steampowered.com"
	userAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxRetries         = 2
	detailConcurrency  = 4
	defaultHTTPTimeout = 30 * time.Second
)

type Client struct {
	httpClient  *http.Client
	baseURL     string
	countries   []string
	minDiscount int
	selectors   SelectorConfig
	retryBase   time.Duration
	now         func() time.Time
}

// New returns a Steam client. countries are the store country codes whose
// prices annotate each offer; the first one is also used for discovery and
// liveness checks. A non-positive timeout falls back to 30s.
func New(countries []string, minDiscount int, timeout time.Duration) (*Client, error) {
	if len(countries) == 0 {
		countries = []string{"US"}
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: timeout, Jar: jar},
		baseURL:     storeURL,
		countries:   countries,
		minDiscount: minDiscount,
		selectors:   LoadConfig(),
		retryBase:   time.Second,
		now:         time.Now,
	}
	if err := c.seedCookies(); err != nil {
		return nil, err
	}
	return c, nil
}

// seedCookies pre-answers the store's age gate so mature titles are listed.
func (c *Client) seedCookies() error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid steam base URL %q: %w", c.baseURL, err)
	}
	c.httpClient.Jar.SetCookies(u, []*http.Cookie{
		{Name: "birthtime", Value: "283993201", Path: "/"},
		{Name: "lastagecheckage", Value: "1-January-1979", Path: "/"},
		{Name: "mature_content", Value: "1", Path: "/"},
		{Name: "wants_mature_content", Value: "1", Path: "/"},
	})
	return nil
}

func (c *Client) Name() models.Source { return models.SourceSteam }

// Fetch scrapes the discounted free-games search page and resolves each hit
// through appdetails. A hit whose details cannot be read is skipped for this
// cycle.
func (c *Client) Fetch(ctx context.Context) ([]models.LiveOffer, error) {
	hits, err := c.search(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []searchHit
	seen := make(map[string]struct{})
	for _, h := range hits {
		if h.Discount < c.minDiscount {
			continue
		}
		if _, dup := seen[h.AppID]; dup {
			continue
		}
		seen[h.AppID] = struct{}{}
		candidates = append(candidates, h)
	}
	logging.FromContext(ctx).Debug("Steam search results", "rows", len(hits), "candidates", len(candidates))

	found := make([]*models.LiveOffer, len(candidates))
	var g errgroup.Group
	g.SetLimit(detailConcurrency)
	for i, h := range candidates {
		g.Go(func() error {
			offer, ok, err := c.offer(ctx, h)
			if err != nil {
				logging.FromContext(ctx).Warn("Failed to read Steam app details", "app_id", h.AppID, "title", h.Title, "error", err)
				return nil
			}
			if !ok {
				return nil
			}
			found[i] = &offer
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	offers := make([]models.LiveOffer, 0, len(found))
	for _, o := range found {
		if o != nil {
			offers = append(offers, *o)
		}
	}
	return offers, nil
}

// CheckLiveness reports whether the app is still 100% off in the first
// configured country. An app the store no longer returns is not live.
func (c *Client) CheckLiveness(ctx context.Context, appID string) (bool, error) {
	data, err := c.appDetails(ctx, appID, c.countries[0])
	if err != nil {
		return false, err
	}
	if data == nil || data.PriceOverview == nil {
		return false, nil
	}
	return data.PriceOverview.DiscountPercent >= 100, nil
}

func (c *Client) offer(ctx context.Context, h searchHit) (models.LiveOffer, bool, error) {
	primary, err := c.appDetails(ctx, h.AppID, c.countries[0])
	if err != nil {
		return models.LiveOffer{}, false, err
	}
	if primary == nil {
		logging.FromContext(ctx).Debug("Steam app has no details", "app_id", h.AppID)
		return models.LiveOffer{}, false, nil
	}

	offer := models.LiveOffer{
		Title:           primary.Name,
		Source:          models.SourceSteam,
		Status:          models.StatusActive,
		StartDate:       c.now().UTC().Truncate(time.Second),
		DiscountPercent: h.Discount,
		ImageURL:        primary.HeaderImage,
		PageURL:         fmt.Sprintf("%s/app/%s/", storeURL, h.AppID),
		Description:     primary.ShortDescription,
		ExternalID:      h.AppID,
		Prices:          models.Prices{},
	}
	if offer.Title == "" {
		offer.Title = h.Title
	}
	if len(primary.Publishers) > 0 {
		offer.Publisher = primary.Publishers[0]
	}
	if offer.ImageURL == "" {
		offer.ImageURL = h.ImageURL
	}
	if po := primary.PriceOverview; po != nil {
		offer.DiscountPercent = po.DiscountPercent
		offer.Prices[po.Currency] = po.entry()
	}
	if offer.DiscountPercent < c.minDiscount {
		logging.FromContext(ctx).Debug("Steam app below discount threshold", "app_id", h.AppID, "discount", offer.DiscountPercent)
		return models.LiveOffer{}, false, nil
	}
	offer.Regions = []models.Region{models.Region(c.countries[0])}

	for _, cc := range c.countries[1:] {
		data, err := c.appDetails(ctx, h.AppID, cc)
		if err != nil {
			logging.FromContext(ctx).Warn("Failed to read Steam regional price", "app_id", h.AppID, "country", cc, "error", err)
			continue
		}
		if data == nil {
			continue
		}
		offer.Regions = models.WithRegion(offer.Regions, models.Region(cc))
		if po := data.PriceOverview; po != nil {
			if _, has := offer.Prices[po.Currency]; !has {
				offer.Prices[po.Currency] = po.entry()
			}
		}
	}
	if len(offer.Prices) == 0 {
		offer.Prices = nil
	}
	return offer, true, nil
}
