package domain

import "time"

// LocalizedText maps a lowercase language code (en, de, fr, nl, es) to a
// translated string.
type LocalizedText map[string]string

// Price tier types. Purchase tiers come from the supplier's buying blocks,
// selling tiers from the recommended retail blocks.
const (
	PriceTypePurchase = "purchase"
	PriceTypeSelling  = "selling"
)

// PriceTier is one quantity break of a product's price ladder.
type PriceTier struct {
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	PriceType string  `json:"price_type"`
}

// Dimensions holds product-level measurements. Zero values mean "not
// provided by the feed".
type Dimensions struct {
	Length float64 `json:"length,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Weight float64 `json:"weight,omitempty"`
	Unit   string  `json:"unit,omitempty"`
}

// Product is a catalog family: the shared descriptive and pricing record a
// set of variants hangs off.
type Product struct {
	ID              string        `json:"id"`
	SKU             string        `json:"sku"`
	ANumber         string        `json:"a_number,omitempty"`
	SupplierSKU     string        `json:"supplier_sku,omitempty"`
	SupplierID      string        `json:"supplier_id"`
	Name            LocalizedText `json:"name,omitempty"`
	Description     LocalizedText `json:"description,omitempty"`
	ShortDescription LocalizedText `json:"short_description,omitempty"`
	ModelName       LocalizedText `json:"model_name,omitempty"`
	Material        LocalizedText `json:"material,omitempty"`
	Category        string        `json:"category,omitempty"`
	Categories      []string      `json:"categories,omitempty"`
	MainImageID     *string       `json:"main_image_id,omitempty"`
	GalleryImageIDs []string      `json:"gallery_image_ids,omitempty"`
	PriceTiers      []PriceTier   `json:"price_tiers,omitempty"`
	Dimensions      Dimensions    `json:"dimensions"`
	CountryOfOrigin string        `json:"country_of_origin,omitempty"`
	DeliveryTime    string        `json:"delivery_time,omitempty"`
	PromidataHash   string        `json:"promidata_hash,omitempty"`
	LastSyncedAt    *time.Time    `json:"last_synced_at,omitempty"`
	IsActive        bool          `json:"is_active"`

	// Derived aggregates, a pure function of the live variant set and the
	// price tiers. Written inside the family transaction.
	AvailableColors []string `json:"available_colors,omitempty"`
	AvailableSizes  []string `json:"available_sizes,omitempty"`
	HexColors       []string `json:"hex_colors,omitempty"`
	PriceMin        *float64 `json:"price_min,omitempty"`
	PriceMax        *float64 `json:"price_max,omitempty"`

	// Set by the semantic sink, never by the reconciler.
	GeminiFileURI    *string `json:"gemini_file_uri,omitempty"`
	GeminiSyncedHash *string `json:"gemini_synced_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductVariant is a concrete color/size combination within a family.
// Descriptive multilingual fields live only on the parent product.
type ProductVariant struct {
	ID        string `json:"id"`
	SKU       string `json:"sku"`
	ProductID string `json:"product_id"`
	Color     string `json:"color,omitempty"`
	HexColor  string `json:"hex_color,omitempty"`
	Size      string `json:"size,omitempty"`

	// Flat dimension columns for query performance.
	DimLength   *float64 `json:"dimensions_length,omitempty"`
	DimWidth    *float64 `json:"dimensions_width,omitempty"`
	DimHeight   *float64 `json:"dimensions_height,omitempty"`
	DimDiameter *float64 `json:"dimensions_diameter,omitempty"`
	DimWeight   *float64 `json:"dimensions_weight,omitempty"`

	PrimaryImageID    *string  `json:"primary_image_id,omitempty"`
	GalleryImageIDs   []string `json:"gallery_image_ids,omitempty"`
	PrimaryImageURL   string   `json:"primary_image_url,omitempty"`
	GalleryImageURLs  []string `json:"gallery_image_urls,omitempty"`
	IsPrimaryForColor bool     `json:"is_primary_for_color"`
	IsActive          bool     `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
