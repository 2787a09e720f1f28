package domain

// Queue names of the three-tier job pipeline.
const (
	QueueSupplierSync  = "supplier-sync"
	QueueProductFamily = "product-family"
	QueueImageUpload   = "image-upload"
)

// Image roles on a variant.
const (
	ImageRolePrimary = "primary"
	ImageRoleGallery = "gallery"
)

// SupplierSyncPayload is the payload of a supplier-sync job.
type SupplierSyncPayload struct {
	SupplierID string `json:"supplier_id"`
	Manual     bool   `json:"manual"`
	// Force clears stored family hashes before the run, forcing a full
	// content re-sync for the supplier.
	Force bool `json:"force,omitempty"`
}

// FamilyPayload is the payload of a product-family job: one changed family
// with its normalized variants.
type FamilyPayload struct {
	SupplierID   string          `json:"supplier_id"`
	FamilyKey    string          `json:"family_key"`
	FamilyHash   string          `json:"family_hash"`
	PreviousHash string          `json:"previous_hash,omitempty"`
	Family       FamilyRecord    `json:"family"`
	Variants     []VariantRecord `json:"variants"`
}

// ImagePayload is the per-image contract of the image pipeline.
type ImagePayload struct {
	SourceURL            string `json:"source_url"`
	VariantID            string `json:"variant_id"`
	Role                 string `json:"role"`
	IsFirstVariantOfFamily bool `json:"is_first_variant_of_family"`
	ProductID            string `json:"product_id"`
	// LargeMaster extends the per-download timeout to 60s.
	LargeMaster bool `json:"large_master,omitempty"`
}

// SupplierSyncResult summarizes a completed supplier-sync job.
type SupplierSyncResult struct {
	SupplierID string   `json:"supplier_id"`
	Total      int      `json:"total"`
	Processed  int      `json:"processed"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Cancelled  bool     `json:"cancelled"`
	Efficiency float64  `json:"efficiency"`
	Errors     []string `json:"errors,omitempty"`
}

// FamilyResult summarizes a completed product-family job.
type FamilyResult struct {
	FamilyKey      string `json:"family_key"`
	Created        bool   `json:"created"`
	VariantCount   int    `json:"variant_count"`
	ImagesEnqueued int    `json:"images_enqueued"`
}
