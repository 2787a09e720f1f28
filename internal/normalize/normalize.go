// Package normalize turns raw upstream product documents into typed family
// and variant records. Everything here is pure: no I/O, no clocks.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Neno73/promidata-sync/internal/domain"
)

// languages is the fan-out set for bare-string multilingual values.
var languages = []string{"en", "de", "fr", "nl", "es"}

// bareSupplierCode matches ANumber values that degenerate to the supplier
// code itself (for example "A23") and therefore cannot serve as a family key.
var bareSupplierCode = regexp.MustCompile(`^[A-Z]\d+$`)

// Normalize converts one raw product document into a family record and its
// variant records. parentSKU is the SKU derived from the manifest entry and
// serves as the family-key fallback. Field keys in the document may arrive in
// camel, Pascal, snake, or upper case; lookups fold case and underscores.
func Normalize(supplierCode, parentSKU string, doc map[string]any) (domain.FamilyRecord, []domain.VariantRecord) {
	family := domain.FamilyRecord{
		SupplierCode: supplierCode,
		SupplierSKU:  parentSKU,
	}

	family.ANumber = stringField(doc, "a_number", "model")
	family.FamilyKey = familyKey(family.ANumber, parentSKU)

	details := localizedBlocks(doc)
	family.Name = localizedField(doc, details, "name", "product_name")
	family.Description = localizedField(doc, details, "description", "web_shop_description")
	family.ShortDescription = localizedField(doc, details, "short_description", "web_shop_short_description")
	family.ModelName = localizedField(doc, details, "model_name")
	family.Material = localizedField(doc, details, "material")

	nonLang := mapField(doc, "non_language_depended_product_details")
	family.Category = firstNonEmpty(
		stringField(nonLang, "category", "main_category"),
		stringField(doc, "category"),
	)
	family.CountryOfOrigin = stringField(nonLang, "country_of_origin")
	family.DeliveryTime = stringField(nonLang, "delivery_time")
	family.Dimensions = dimensions(nonLang)

	family.PriceTiers = priceTiers(doc)

	var variants []domain.VariantRecord
	for _, raw := range sliceField(doc, "child_products") {
		child, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		variants = append(variants, normalizeVariant(child))
	}

	return family, variants
}

// familyKey applies the ANumber rule: a usable ANumber wins, but a value that
// is just the supplier code falls back to the parent SKU.
func familyKey(aNumber, parentSKU string) string {
	if aNumber != "" && !bareSupplierCode.MatchString(aNumber) {
		return aNumber
	}
	return parentSKU
}

func normalizeVariant(child map[string]any) domain.VariantRecord {
	v := domain.VariantRecord{
		SKU: stringField(child, "sku", "supplier_sku", "child_product_number"),
	}

	v.Color, v.Size = configurationColorSize(child)
	if v.Color == "" {
		v.Color = stringField(child, "color")
	}
	if v.Size == "" {
		v.Size = stringField(child, "size")
	}
	v.HexColor = stringField(child, "hex_color")

	nonLang := mapField(child, "non_language_depended_product_details")
	v.DimLength = floatPtrField(nonLang, "length", "dimensions_length")
	v.DimWidth = floatPtrField(nonLang, "width", "dimensions_width")
	v.DimHeight = floatPtrField(nonLang, "height", "dimensions_height")
	v.DimDiameter = floatPtrField(nonLang, "diameter", "dimensions_diameter")
	v.DimWeight = floatPtrField(nonLang, "weight", "dimensions_weight")

	v.PrimaryImageURL = primaryImageURL(child)
	v.GalleryImageURLs = galleryImageURLs(child)

	return v
}

// configurationColorSize extracts color and size from the ConfigurationFields
// array by case-insensitive name match.
func configurationColorSize(child map[string]any) (color, size string) {
	for _, raw := range sliceField(child, "configuration_fields") {
		field, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := strings.ToLower(stringField(field, "configuration_name", "name"))
		value := stringField(field, "configuration_value", "value")
		if value == "" {
			continue
		}
		switch {
		case strings.Contains(name, "color") || strings.Contains(name, "colour"):
			if color == "" {
				color = value
			}
		case strings.Contains(name, "size"):
			if size == "" {
				size = value
			}
		}
	}
	return color, size
}

// primaryImageURL reads ProductDetails[lang].Image.Url, preferring the
// language order of the fan-out set so the choice is deterministic.
func primaryImageURL(child map[string]any) string {
	details := localizedBlocks(child)
	for _, lang := range languages {
		block, ok := details[lang]
		if !ok {
			continue
		}
		if url := stringField(mapField(block, "image"), "url"); url != "" {
			return url
		}
	}
	return ""
}

func galleryImageURLs(child map[string]any) []string {
	var urls []string
	seen := make(map[string]struct{})

	collect := func(items []any) {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			url := stringField(item, "url")
			if url == "" {
				continue
			}
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}
			urls = append(urls, url)
		}
	}

	collect(sliceField(child, "media_gallery_images"))
	details := localizedBlocks(child)
	for _, lang := range languages {
		block, ok := details[lang]
		if !ok {
			continue
		}
		collect(sliceField(block, "media_gallery_images"))
	}
	return urls
}

// localizedBlocks returns the ProductDetails map keyed by lowercase language
// code.
func localizedBlocks(doc map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for lang, raw := range mapField(doc, "product_details") {
		if block, ok := raw.(map[string]any); ok {
			out[strings.ToLower(lang)] = block
		}
	}
	return out
}

// localizedField resolves a multilingual field. A per-language block value
// wins; a top-level object is copied as-is; a top-level bare string fans out
// to every supported language.
func localizedField(doc map[string]any, details map[string]map[string]any, names ...string) domain.LocalizedText {
	text := make(domain.LocalizedText)
	for _, lang := range languages {
		block, ok := details[lang]
		if !ok {
			continue
		}
		if s := stringField(block, names...); s != "" {
			text[lang] = s
		}
	}
	if len(text) > 0 {
		return text
	}

	raw, ok := lookup(doc, names...)
	if !ok {
		return nil
	}
	switch val := raw.(type) {
	case map[string]any:
		for lang, lv := range val {
			if s, ok := lv.(string); ok && s != "" {
				text[strings.ToLower(lang)] = s
			}
		}
	case string:
		if val != "" {
			for _, lang := range languages {
				text[lang] = val
			}
		}
	}
	if len(text) == 0 {
		return nil
	}
	return text
}

// priceTiers merges the flat price_1..price_8 fields with any PriceDetails
// array. One tier per non-null price; currency defaults to EUR.
func priceTiers(doc map[string]any) []domain.PriceTier {
	var tiers []domain.PriceTier

	for i := 1; i <= 8; i++ {
		price, ok := floatField(doc, "price_"+strconv.Itoa(i))
		if !ok || price <= 0 {
			continue
		}
		quantity := 1
		if q, ok := floatField(doc, "quantity_"+strconv.Itoa(i)); ok && q > 0 {
			quantity = int(q)
		}
		tiers = append(tiers, domain.PriceTier{
			Quantity:  quantity,
			Price:     price,
			Currency:  "EUR",
			PriceType: domain.PriceTypeSelling,
		})
	}

	for _, raw := range sliceField(doc, "price_details") {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		quantity := 1
		if q, ok := floatField(item, "quantity", "from_quantity"); ok && q > 0 {
			quantity = int(q)
		}
		currency := stringField(item, "currency")
		if currency == "" {
			currency = "EUR"
		}
		if price, ok := floatField(item, "buying_price", "purchase_price"); ok && price > 0 {
			tiers = append(tiers, domain.PriceTier{
				Quantity:  quantity,
				Price:     price,
				Currency:  currency,
				PriceType: domain.PriceTypePurchase,
			})
		}
		if price, ok := floatField(item, "selling_price", "recommended_price", "price"); ok && price > 0 {
			tiers = append(tiers, domain.PriceTier{
				Quantity:  quantity,
				Price:     price,
				Currency:  currency,
				PriceType: domain.PriceTypeSelling,
			})
		}
	}

	return tiers
}

// dimensions parses the shared measurement block. Non-numeric, zero, and
// negative values are dropped.
func dimensions(block map[string]any) domain.Dimensions {
	d := domain.Dimensions{Unit: stringField(block, "dimensions_unit", "unit")}
	if v, ok := floatField(block, "length", "dimensions_length"); ok && v > 0 {
		d.Length = v
	}
	if v, ok := floatField(block, "width", "dimensions_width"); ok && v > 0 {
		d.Width = v
	}
	if v, ok := floatField(block, "height", "dimensions_height"); ok && v > 0 {
		d.Height = v
	}
	if v, ok := floatField(block, "weight", "dimensions_weight"); ok && v > 0 {
		d.Weight = v
	}
	return d
}

// lookup finds the first of names in m, folding case and underscores so that
// camel, Pascal, snake, and upper case spellings all match.
func lookup(m map[string]any, names ...string) (any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	folded := make(map[string]any, len(m))
	for k, v := range m {
		folded[foldKey(k)] = v
	}
	for _, name := range names {
		if v, ok := folded[foldKey(name)]; ok {
			return v, true
		}
	}
	return nil, false
}

func foldKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(key, "_", ""), "-", ""))
}

func stringField(m map[string]any, names ...string) string {
	raw, ok := lookup(m, names...)
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func mapField(m map[string]any, names ...string) map[string]any {
	raw, ok := lookup(m, names...)
	if !ok {
		return nil
	}
	if v, ok := raw.(map[string]any); ok {
		return v
	}
	return nil
}

func sliceField(m map[string]any, names ...string) []any {
	raw, ok := lookup(m, names...)
	if !ok {
		return nil
	}
	if v, ok := raw.([]any); ok {
		return v
	}
	return nil
}

func floatField(m map[string]any, names ...string) (float64, bool) {
	raw, ok := lookup(m, names...)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", ".")), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func floatPtrField(m map[string]any, names ...string) *float64 {
	v, ok := floatField(m, names...)
	if !ok || v <= 0 {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
