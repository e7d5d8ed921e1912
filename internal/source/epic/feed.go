package epic

import (
	"time"

	"github.com/pauljones0/free-games-bot/internal/models"
	"github.com/pauljones0/free-games-bot/internal/util"
)

type promotionsResponse struct {
	Data struct {
		Catalog struct {
			SearchStore struct {
				Elements []element `json:"elements"`
			} `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
}

type element struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProductSlug string `json:"productSlug"`
	URLSlug     string `json:"urlSlug"`
	Seller      struct {
		Name string `json:"name"`
	} `json:"seller"`
	KeyImages []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"keyImages"`
	CatalogNs struct {
		Mappings []struct {
			PageSlug string `json:"pageSlug"`
			PageType string `json:"pageType"`
		} `json:"mappings"`
	} `json:"catalogNs"`
	Price *struct {
		TotalPrice struct {
			OriginalPrice int64  `json:"originalPrice"`
			DiscountPrice int64  `json:"discountPrice"`
			CurrencyCode  string `json:"currencyCode"`
		} `json:"totalPrice"`
	} `json:"price"`
	Promotions *struct {
		PromotionalOffers         []promotionGroup `json:"promotionalOffers"`
		UpcomingPromotionalOffers []promotionGroup `json:"upcomingPromotionalOffers"`
	} `json:"promotions"`
}

type promotionGroup struct {
	PromotionalOffers []promotion `json:"promotionalOffers"`
}

type promotion struct {
	StartDate       time.Time `json:"startDate"`
	EndDate         time.Time `json:"endDate"`
	DiscountSetting struct {
		DiscountType       string `json:"discountType"`
		DiscountPercentage int    `json:"discountPercentage"`
	} `json:"discountSetting"`
}

// Epic reports the share of the price that remains, so 0 means free.
func (p promotion) free() bool {
	return p.DiscountSetting.DiscountPercentage == 0
}

func (el element) offers(groups []promotionGroup, status models.Status, region models.Region) []models.LiveOffer {
	var out []models.LiveOffer
	for _, g := range groups {
		for _, p := range g.PromotionalOffers {
			if !p.free() {
				continue
			}
			out = append(out, models.LiveOffer{
				Title:           el.Title,
				Source:          models.SourceEpic,
				Status:          status,
				StartDate:       p.StartDate.UTC(),
				EndDate:         p.EndDate.UTC(),
				Prices:          el.prices(),
				DiscountPercent: 100 - p.DiscountSetting.DiscountPercentage,
				Regions:         []models.Region{region},
				ImageURL:        el.image(),
				PageURL:         el.pageURL(),
				Publisher:       el.Seller.Name,
				Description:     el.Description,
				ExternalID:      el.ID,
			})
		}
	}
	return out
}

func (el element) prices() models.Prices {
	if el.Price == nil || el.Price.TotalPrice.CurrencyCode == "" {
		return nil
	}
	tp := el.Price.TotalPrice
	return models.Prices{
		tp.CurrencyCode: {
			Original: util.MinorToMajor(tp.OriginalPrice),
			Current:  util.MinorToMajor(tp.DiscountPrice),
		},
	}
}

func (el element) pageURL() string {
	for _, m := range el.CatalogNs.Mappings {
		if m.PageSlug != "" {
			return storeURL + m.PageSlug
		}
	}
	switch {
	case el.ProductSlug != "":
		return storeURL + el.ProductSlug
	case el.URLSlug != "":
		return storeURL + el.URLSlug
	}
	return ""
}

var preferredImages = []string{"OfferImageWide", "DieselStoreFrontWide", "Thumbnail"}

func (el element) image() string {
	for _, want := range preferredImages {
		for _, img := range el.KeyImages {
			if img.Type == want && img.URL != "" {
				return img.URL
			}
		}
	}
	if len(el.KeyImages) > 0 {
		return el.KeyImages[0].URL
	}
	return ""
}
