// Package grouping partitions normalized records into families and color
// groups and computes the family content hash used for change detection.
package grouping

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/Neno73/promidata-sync/internal/domain"
)

// Family is one grouped product family: the shared record plus every variant
// collected for it, in feed order.
type Family struct {
	Key      string
	Record   domain.FamilyRecord
	Variants []domain.VariantRecord

	// ManifestHash is the upstream hash of the document the family came
	// from; when set it is the change-detection truth and the computed
	// content hash is not needed.
	ManifestHash string
}

// ColorGroup is the per-color partition of a family's variants. The first
// variant of each color is the designated primary.
type ColorGroup struct {
	Color    string
	Variants []domain.VariantRecord
}

// GroupByFamily merges normalized documents that share a family key. The
// first document's family record wins; variants accumulate in input order and
// deduplicate by SKU. Family order follows first appearance in the input.
func GroupByFamily(docs []Family) []Family {
	var order []string
	byKey := make(map[string]*Family)
	seenSKU := make(map[string]map[string]struct{})

	for _, doc := range docs {
		fam, ok := byKey[doc.Key]
		if !ok {
			copied := doc
			copied.Variants = nil
			byKey[doc.Key] = &copied
			fam = &copied
			order = append(order, doc.Key)
			seenSKU[doc.Key] = make(map[string]struct{})
		}
		for _, v := range doc.Variants {
			if _, dup := seenSKU[doc.Key][v.SKU]; dup && v.SKU != "" {
				continue
			}
			seenSKU[doc.Key][v.SKU] = struct{}{}
			fam.Variants = append(fam.Variants, v)
		}
	}

	out := make([]Family, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out
}

// GroupByColor partitions variants by color name, preserving feed order both
// across groups and within each group.
func GroupByColor(variants []domain.VariantRecord) []ColorGroup {
	var order []string
	byColor := make(map[string][]domain.VariantRecord)

	for _, v := range variants {
		if _, ok := byColor[v.Color]; !ok {
			order = append(order, v.Color)
		}
		byColor[v.Color] = append(byColor[v.Color], v)
	}

	groups := make([]ColorGroup, 0, len(order))
	for _, color := range order {
		groups = append(groups, ColorGroup{Color: color, Variants: byColor[color]})
	}
	return groups
}

// FamilyHash computes the content hash of a family: SHA-256 over the
// canonical form, truncated to 32 hex characters. Multilingual maps are
// sorted by language, price tiers by (quantity, price type), numbers are
// rendered in a fixed form, and media references are excluded, so the hash is
// stable under input reordering of those fields and sensitive to everything
// else.
func FamilyHash(family domain.FamilyRecord, variants []domain.VariantRecord) string {
	var b strings.Builder

	writeField(&b, "family_key", family.FamilyKey)
	writeField(&b, "a_number", family.ANumber)
	writeField(&b, "supplier_sku", family.SupplierSKU)
	writeField(&b, "supplier_code", family.SupplierCode)
	writeLocalized(&b, "name", family.Name)
	writeLocalized(&b, "description", family.Description)
	writeLocalized(&b, "short_description", family.ShortDescription)
	writeLocalized(&b, "model_name", family.ModelName)
	writeLocalized(&b, "material", family.Material)
	writeField(&b, "category", family.Category)
	writeField(&b, "country_of_origin", family.CountryOfOrigin)
	writeField(&b, "delivery_time", family.DeliveryTime)

	writeField(&b, "dim.length", formatNumber(family.Dimensions.Length))
	writeField(&b, "dim.width", formatNumber(family.Dimensions.Width))
	writeField(&b, "dim.height", formatNumber(family.Dimensions.Height))
	writeField(&b, "dim.weight", formatNumber(family.Dimensions.Weight))
	writeField(&b, "dim.unit", family.Dimensions.Unit)

	tiers := make([]domain.PriceTier, len(family.PriceTiers))
	copy(tiers, family.PriceTiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].Quantity != tiers[j].Quantity {
			return tiers[i].Quantity < tiers[j].Quantity
		}
		return tiers[i].PriceType < tiers[j].PriceType
	})
	for _, tier := range tiers {
		writeField(&b, "tier",
			strconv.Itoa(tier.Quantity)+"|"+formatNumber(tier.Price)+"|"+tier.Currency+"|"+tier.PriceType)
	}

	for _, v := range variants {
		writeField(&b, "variant.sku", v.SKU)
		writeField(&b, "variant.color", v.Color)
		writeField(&b, "variant.hex_color", v.HexColor)
		writeField(&b, "variant.size", v.Size)
		writeField(&b, "variant.dim.length", formatNumberPtr(v.DimLength))
		writeField(&b, "variant.dim.width", formatNumberPtr(v.DimWidth))
		writeField(&b, "variant.dim.height", formatNumberPtr(v.DimHeight))
		writeField(&b, "variant.dim.diameter", formatNumberPtr(v.DimDiameter))
		writeField(&b, "variant.dim.weight", formatNumberPtr(v.DimWeight))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:32]
}

func writeField(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('\n')
}

func writeLocalized(b *strings.Builder, key string, text domain.LocalizedText) {
	if len(text) == 0 {
		return
	}
	langs := make([]string, 0, len(text))
	for lang := range text {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		writeField(b, key+"."+lang, text[lang])
	}
}

func formatNumber(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatNumberPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatNumber(*v)
}
