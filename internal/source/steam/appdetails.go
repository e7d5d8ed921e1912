package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pauljones0/free-games-bot/internal/logging"
	"github.com/pauljones0/free-games-bot/internal/models"
	"github.com/pauljones0/free-games-bot/internal/util"
)

type appEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type appData struct {
	Name             string         `json:"name"`
	SteamAppID       int            `json:"steam_appid"`
	IsFree           bool           `json:"is_free"`
	ShortDescription string         `json:"short_description"`
	HeaderImage      string         `json:"header_image"`
	Publishers       []string       `json:"publishers"`
	PriceOverview    *priceOverview `json:"price_overview"`
}

// Amounts are in minor currency units.
type priceOverview struct {
	Currency        string `json:"currency"`
	Initial         int64  `json:"initial"`
	Final           int64  `json:"final"`
	DiscountPercent int    `json:"discount_percent"`
}

func (p priceOverview) entry() models.PriceEntry {
	return models.PriceEntry{
		Original: util.MinorToMajor(p.Initial),
		Current:  util.MinorToMajor(p.Final),
	}
}

// appDetails returns nil without an error when the store has no data for the
// app in that country.
func (c *Client) appDetails(ctx context.Context, appID, country string) (*appData, error) {
	params := url.Values{}
	params.Set("appids", appID)
	params.Set("cc", country)
	params.Set("l", "english")
	endpoint := c.baseURL + "/api/appdetails?" + params.Encode()

	var body map[string]appEnvelope
	err := util.RetryWithBackoff(ctx, maxRetries, c.retryBase, func(attempt int) error {
		if attempt > 0 {
			logging.FromContext(ctx).Warn("Retrying Steam appdetails", "app_id", appID, "country", country, "attempt", attempt+1)
		}
		body = nil
		return c.getJSON(ctx, endpoint, &body)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appdetails for %s (%s): %w", appID, country, err)
	}

	env, ok := body[appID]
	if !ok || !env.Success {
		return nil, nil
	}
	// The store sends an empty array instead of an object for some apps.
	if !bytes.HasPrefix(bytes.TrimSpace(env.Data), []byte("{")) {
		return nil, nil
	}
	var data appData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode appdetails for %s: %w", appID, err)
	}
	return &data, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
