package manifest

import (
	"path"
	"strings"
)

// Entry is one parsed manifest line: a product document URL with its content
// hash, plus the SKU and supplier code derived from the URL path.
type Entry struct {
	URL          string
	Hash         string
	SKU          string
	SupplierCode string
}

// Parse decodes the line-oriented import manifest. Each non-empty line has
// the form `<url>|<hex-hash>`. Lines pointing at CAT.csv or lacking the
// separator are silently skipped. Input order is preserved for
// reproducibility.
func Parse(text string) []Entry {
	var entries []Entry

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		url, hash, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		url = strings.TrimSpace(url)
		hash = strings.TrimSpace(hash)
		if url == "" || hash == "" {
			continue
		}
		if strings.HasSuffix(url, "/CAT.csv") {
			continue
		}

		entries = append(entries, Entry{
			URL:          url,
			Hash:         hash,
			SKU:          skuFromURL(url),
			SupplierCode: supplierFromURL(url),
		})
	}

	return entries
}

// FilterSupplier returns the entries belonging to one supplier code,
// preserving order.
func FilterSupplier(entries []Entry, supplierCode string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.SupplierCode == supplierCode {
			out = append(out, e)
		}
	}
	return out
}

// skuFromURL derives the SKU: basename without extension.
func skuFromURL(url string) string {
	base := path.Base(url)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base
}

// supplierFromURL derives the supplier code: the leading path segment after
// any scheme and host.
func supplierFromURL(url string) string {
	trimmed := url
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		trimmed = trimmed[idx+3:]
		// Drop the host segment of absolute URLs.
		if slash := strings.Index(trimmed, "/"); slash >= 0 {
			trimmed = trimmed[slash+1:]
		} else {
			return ""
		}
	}
	trimmed = strings.TrimLeft(trimmed, "/")
	if slash := strings.Index(trimmed, "/"); slash >= 0 {
		return trimmed[:slash]
	}
	return ""
}
