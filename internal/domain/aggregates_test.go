package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAggregatesDedupsInOrder(t *testing.T) {
	variants := []ProductVariant{
		{Color: "Red", Size: "S", HexColor: "#ff0000", IsActive: true},
		{Color: "Blue", Size: "M", HexColor: "#0000ff", IsActive: true},
		{Color: "Red", Size: "M", HexColor: "#ff0000", IsActive: true},
		{Color: "Green", Size: "L", IsActive: false},
	}

	agg := ComputeAggregates(variants, nil)

	assert.Equal(t, []string{"Red", "Blue"}, agg.AvailableColors)
	assert.Equal(t, []string{"S", "M"}, agg.AvailableSizes)
	assert.Equal(t, []string{"#ff0000", "#0000ff"}, agg.HexColors)
	assert.Nil(t, agg.PriceMin)
	assert.Nil(t, agg.PriceMax)
}

func TestComputeAggregatesPriceRangePrefersSelling(t *testing.T) {
	tiers := []PriceTier{
		{Quantity: 1, Price: 2.10, PriceType: PriceTypePurchase},
		{Quantity: 1, Price: 5.50, PriceType: PriceTypeSelling},
		{Quantity: 100, Price: 4.95, PriceType: PriceTypeSelling},
	}

	agg := ComputeAggregates(nil, tiers)
	require.NotNil(t, agg.PriceMin)
	require.NotNil(t, agg.PriceMax)
	assert.InDelta(t, 4.95, *agg.PriceMin, 1e-9)
	assert.InDelta(t, 5.50, *agg.PriceMax, 1e-9)
}

func TestComputeAggregatesPriceRangeFallsBackToAllTiers(t *testing.T) {
	tiers := []PriceTier{
		{Quantity: 1, Price: 2.10, PriceType: PriceTypePurchase},
		{Quantity: 100, Price: 1.80, PriceType: PriceTypePurchase},
	}

	agg := ComputeAggregates(nil, tiers)
	require.NotNil(t, agg.PriceMin)
	assert.InDelta(t, 1.80, *agg.PriceMin, 1e-9)
	assert.InDelta(t, 2.10, *agg.PriceMax, 1e-9)
}
