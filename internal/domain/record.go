package domain

// FamilyRecord is the normalized, strongly-typed form of one upstream product
// document's shared (parent) fields. It is what the content hash is computed
// over and what the reconciler maps onto a Product row. Downstream components
// never see the raw feed document.
type FamilyRecord struct {
	FamilyKey        string        `json:"family_key"`
	ANumber          string        `json:"a_number,omitempty"`
	SupplierSKU      string        `json:"supplier_sku,omitempty"`
	SupplierCode     string        `json:"supplier_code"`
	Name             LocalizedText `json:"name,omitempty"`
	Description      LocalizedText `json:"description,omitempty"`
	ShortDescription LocalizedText `json:"short_description,omitempty"`
	ModelName        LocalizedText `json:"model_name,omitempty"`
	Material         LocalizedText `json:"material,omitempty"`
	Category         string        `json:"category,omitempty"`
	PriceTiers       []PriceTier   `json:"price_tiers,omitempty"`
	Dimensions       Dimensions    `json:"dimensions"`
	CountryOfOrigin  string        `json:"country_of_origin,omitempty"`
	DeliveryTime     string        `json:"delivery_time,omitempty"`
}

// VariantRecord is the normalized form of one child product: the
// variant-specific fields only (color, size, flat dimensions, images).
type VariantRecord struct {
	SKU         string   `json:"sku"`
	Color       string   `json:"color,omitempty"`
	HexColor    string   `json:"hex_color,omitempty"`
	Size        string   `json:"size,omitempty"`
	DimLength   *float64 `json:"dim_length,omitempty"`
	DimWidth    *float64 `json:"dim_width,omitempty"`
	DimHeight   *float64 `json:"dim_height,omitempty"`
	DimDiameter *float64 `json:"dim_diameter,omitempty"`
	DimWeight   *float64 `json:"dim_weight,omitempty"`
	PrimaryImageURL  string   `json:"primary_image_url,omitempty"`
	GalleryImageURLs []string `json:"gallery_image_urls,omitempty"`
}
