// Package semantic uploads product renditions to the semantic search store.
// The store is an opaque HTTP target: one plain-text file per product
// version, identified by the returned file URI. Superseded files are left in
// place; the store tolerates accumulation.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/event"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// languageOrder fixes the rendition's language sequence so equal content
// renders identically across runs.
var languageOrder = []string{"en", "de", "fr", "nl", "es"}

// productRecorder is the slice of the product repository the sink needs.
type productRecorder interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	SetGeminiSync(ctx context.Context, productID, fileURI, syncedHash string) error
}

// Config holds semantic store connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Store is the HTTP client for the semantic search store.
type Store struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	products productRecorder
	logger   *slog.Logger
}

// uploadResponse is the store's reply to a file upload.
type uploadResponse struct {
	FileURI string `json:"file_uri"`
}

// NewStore creates the semantic sink client.
func NewStore(cfg Config, products productRecorder, logger *slog.Logger) *Store {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		products: products,
		logger:   logger,
	}
}

// SyncProduct uploads the product's text rendition and records the returned
// file URI together with the hash it was built from. A product whose synced
// hash already matches is skipped without an upload.
func (s *Store) SyncProduct(ctx context.Context, data *event.ProductUpsertedData) error {
	product, err := s.products.GetByID(ctx, data.ProductID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Deleted between publish and consume; nothing to sync.
			return nil
		}
		return fmt.Errorf("load product %s: %w", data.ProductID, err)
	}

	if product.GeminiSyncedHash != nil && *product.GeminiSyncedHash == product.PromidataHash {
		s.logger.DebugContext(ctx, "semantic store already current",
			slog.String("product_id", product.ID),
			slog.String("hash", product.PromidataHash),
		)
		return nil
	}

	fileURI, err := s.upload(ctx, product.SKU, RenderProduct(product))
	if err != nil {
		return fmt.Errorf("upload rendition for %s: %w", product.SKU, err)
	}

	if err := s.products.SetGeminiSync(ctx, product.ID, fileURI, product.PromidataHash); err != nil {
		return fmt.Errorf("record semantic sync for %s: %w", product.ID, err)
	}

	s.logger.InfoContext(ctx, "product synced to semantic store",
		slog.String("product_id", product.ID),
		slog.String("file_uri", fileURI),
	)
	return nil
}

// upload posts one rendition to the store's file endpoint.
func (s *Store) upload(ctx context.Context, name, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"display_name": name,
		"mime_type":    "text/plain",
		"content":      text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/files", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &apperrors.TransientStoreError{Op: "semantic upload", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &apperrors.TransientStoreError{Op: "semantic upload", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := fmt.Sprintf("semantic store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", &apperrors.TransientStoreError{Op: "semantic upload", Cause: errors.New(detail)}
		}
		// A 4xx means the rendition itself was rejected; retrying the same
		// content cannot succeed.
		return "", &apperrors.ValidationError{Field: "rendition", Reason: detail}
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.FileURI == "" {
		return "", fmt.Errorf("semantic store returned no file_uri")
	}
	return parsed.FileURI, nil
}

// Ping checks the store's health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("semantic store ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("semantic store ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// RenderProduct flattens a product into the plain-text form the semantic
// store embeds. Field order and language order are fixed.
func RenderProduct(p *domain.Product) string {
	var b strings.Builder

	fmt.Fprintf(&b, "SKU: %s\n", p.SKU)
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	writeLocalized(&b, "Name", p.Name)
	writeLocalized(&b, "Description", p.Description)
	writeLocalized(&b, "Material", p.Material)

	if len(p.AvailableColors) > 0 {
		fmt.Fprintf(&b, "Colors: %s\n", strings.Join(p.AvailableColors, ", "))
	}
	if len(p.AvailableSizes) > 0 {
		fmt.Fprintf(&b, "Sizes: %s\n", strings.Join(p.AvailableSizes, ", "))
	}
	if p.PriceMin != nil && p.PriceMax != nil {
		fmt.Fprintf(&b, "Price range: %.2f to %.2f EUR\n", *p.PriceMin, *p.PriceMax)
	}
	if p.CountryOfOrigin != "" {
		fmt.Fprintf(&b, "Country of origin: %s\n", p.CountryOfOrigin)
	}
	return b.String()
}

func writeLocalized(b *strings.Builder, label string, text domain.LocalizedText) {
	if len(text) == 0 {
		return
	}
	seen := make(map[string]bool, len(text))
	for _, lang := range languageOrder {
		if v, ok := text[lang]; ok && v != "" {
			fmt.Fprintf(b, "%s (%s): %s\n", label, lang, v)
			seen[lang] = true
		}
	}

	rest := make([]string, 0, len(text))
	for lang, v := range text {
		if !seen[lang] && v != "" {
			rest = append(rest, lang)
		}
	}
	sort.Strings(rest)
	for _, lang := range rest {
		fmt.Fprintf(b, "%s (%s): %s\n", label, lang, text[lang])
	}
}
