package steam

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pauljones0/free-games-bot/internal/logging"
	"github.com/pauljones0/free-games-bot/internal/util"
)

type searchHit struct {
	AppID    string
	Title    string
	Discount int
	ImageURL string
}

func (c *Client) search(ctx context.Context) ([]searchHit, error) {
	params := url.Values{}
	params.Set("maxprice", "free")
	params.Set("specials", "1")
	params.Set("cc", c.countries[0])
	params.Set("l", "english")
	endpoint := c.baseURL + "/search/?" + params.Encode()

	var doc *goquery.Document
	err := util.RetryWithBackoff(ctx, maxRetries, c.retryBase, func(attempt int) error {
		if attempt > 0 {
			logging.FromContext(ctx).Warn("Retrying Steam search page", "attempt", attempt+1)
		}
		var err error
		doc, err = c.fetchHTML(ctx, endpoint)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scrape steam search page: %w", err)
	}

	sel := c.selectors.SearchResults
	var hits []searchHit
	doc.Find(sel.Row).Each(func(_ int, s *goquery.Selection) {
		appID, ok := s.Attr(sel.AppIDAttr)
		appID = strings.TrimSpace(appID)
		// Bundles list several ids; they are not single-app giveaways.
		if !ok || appID == "" || strings.Contains(appID, ",") {
			return
		}

		hit := searchHit{
			AppID:    appID,
			Title:    strings.TrimSpace(s.Find(sel.Title).First().Text()),
			Discount: discountOf(s, sel),
		}
		if img, ok := s.Find(sel.Image).First().Attr("src"); ok {
			hit.ImageURL = img
		}
		hits = append(hits, hit)
	})
	return hits, nil
}

func discountOf(s *goquery.Selection, sel SearchSelectors) int {
	if sel.DiscountBlock != "" && sel.DiscountAttr != "" {
		if v, ok := s.Find(sel.DiscountBlock).First().Attr(sel.DiscountAttr); ok {
			if d := util.ParseDiscountPercent(v); d > 0 {
				return d
			}
		}
	}
	return util.ParseDiscountPercent(s.Find(sel.Discount).First().Text())
}

func (c *Client) fetchHTML(ctx context.Context, endpoint string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for URL %s: %w", endpoint, err)
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch URL %s: status code %d", endpoint, res.StatusCode)
	}

	return goquery.NewDocumentFromReader(res.Body)
}
