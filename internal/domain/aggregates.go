package domain

// Aggregates are the product-level fields derived from the live variant set
// and the price tiers. They are recomputed inside every family transaction.
type Aggregates struct {
	AvailableColors []string
	AvailableSizes  []string
	HexColors       []string
	PriceMin        *float64
	PriceMax        *float64
}

// ComputeAggregates derives the product aggregates from the active variants
// and price tiers. Colors, sizes, and hex colors keep first-seen order and
// deduplicate; min and max range over selling tiers only, falling back to all
// tiers when no selling tier exists.
func ComputeAggregates(variants []ProductVariant, tiers []PriceTier) Aggregates {
	var agg Aggregates
	seenColor := make(map[string]struct{})
	seenSize := make(map[string]struct{})
	seenHex := make(map[string]struct{})

	for _, v := range variants {
		if !v.IsActive {
			continue
		}
		if v.Color != "" {
			if _, ok := seenColor[v.Color]; !ok {
				seenColor[v.Color] = struct{}{}
				agg.AvailableColors = append(agg.AvailableColors, v.Color)
			}
		}
		if v.Size != "" {
			if _, ok := seenSize[v.Size]; !ok {
				seenSize[v.Size] = struct{}{}
				agg.AvailableSizes = append(agg.AvailableSizes, v.Size)
			}
		}
		if v.HexColor != "" {
			if _, ok := seenHex[v.HexColor]; !ok {
				seenHex[v.HexColor] = struct{}{}
				agg.HexColors = append(agg.HexColors, v.HexColor)
			}
		}
	}

	agg.PriceMin, agg.PriceMax = priceRange(tiers, PriceTypeSelling)
	if agg.PriceMin == nil {
		agg.PriceMin, agg.PriceMax = priceRange(tiers, "")
	}

	return agg
}

func priceRange(tiers []PriceTier, priceType string) (min, max *float64) {
	for _, tier := range tiers {
		if priceType != "" && tier.PriceType != priceType {
			continue
		}
		if tier.Price <= 0 {
			continue
		}
		price := tier.Price
		if min == nil || price < *min {
			min = &price
		}
		if max == nil || price > *max {
			max = &price
		}
	}
	return min, max
}
