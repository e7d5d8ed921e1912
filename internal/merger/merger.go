// Package merger combines the offer lists a store reports for two regions into
// one list annotated with cross-region availability and prices.
package merger

import "github.com/pauljones0/free-games-bot/internal/models"

// RegionOffers is the offer list one region of a source returned.
type RegionOffers struct {
	Region models.Region
	Offers []models.LiveOffer
}

// Merge folds the reference region's offers into the primary region's.
//
// Primary offers come first, in their original order. Each one is marked
// available in the reference region iff the reference list has an offer with
// exactly the same title, and in that case gains the reference's price entries
// for currencies it does not already carry. Reference-only offers follow, in
// their original order, marked unavailable in the primary region.
//
// Titles are matched case-sensitively: localized or re-punctuated titles do not
// merge. Inputs are never modified.
func Merge(primary, reference RegionOffers) []models.LiveOffer {
	byTitle := make(map[string]models.LiveOffer, len(reference.Offers))
	for _, o := range reference.Offers {
		if _, dup := byTitle[o.Title]; !dup {
			byTitle[o.Title] = o
		}
	}

	merged := make([]models.LiveOffer, 0, len(primary.Offers)+len(reference.Offers))
	primaryTitles := make(map[string]struct{}, len(primary.Offers))

	for _, p := range primary.Offers {
		primaryTitles[p.Title] = struct{}{}
		out := p.Clone()
		out.Regions = models.WithRegion(out.Regions, primary.Region)

		ref, ok := byTitle[p.Title]
		if !ok {
			out.Regions = models.WithoutRegion(out.Regions, reference.Region)
			merged = append(merged, out)
			continue
		}

		out.Regions = models.WithRegion(out.Regions, reference.Region)
		for currency, entry := range ref.Prices {
			if _, has := out.Prices[currency]; has {
				continue
			}
			if out.Prices == nil {
				out.Prices = make(models.Prices, len(ref.Prices))
			}
			out.Prices[currency] = entry
		}
		merged = append(merged, out)
	}

	for _, r := range reference.Offers {
		if _, seen := primaryTitles[r.Title]; seen {
			continue
		}
		out := r.Clone()
		out.Regions = models.WithRegion(out.Regions, reference.Region)
		out.Regions = models.WithoutRegion(out.Regions, primary.Region)
		merged = append(merged, out)
	}

	return merged
}
