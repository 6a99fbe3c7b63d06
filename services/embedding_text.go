package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"storefront-agent/models"
)

// MaxFieldRunes bounds every catalog field rendered into embedding text.
const MaxFieldRunes = 1000

var (
	markupTag  = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

var colorAttributes = map[string]bool{
	"color":   true,
	"colour":  true,
	"colors":  true,
	"colours": true,
}

// CleanField strips markup and control characters, collapses whitespace and
// truncates to MaxFieldRunes.
func CleanField(s string) string {
	s = markupTag.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	return truncateRunes(s, MaxFieldRunes)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}

// FormatPrice renders a price with two decimals and an optional currency code.
func FormatPrice(price float64, currency string) string {
	p := strconv.FormatFloat(price, 'f', 2, 64)
	if currency == "" {
		return p
	}
	return p + " " + strings.ToUpper(currency)
}

// BuildEmbeddingText renders a catalog item into the canonical text sent to
// the embedding service. Returns "" when the item has no usable content.
func BuildEmbeddingText(item *models.CatalogItem) string {
	name := CleanField(item.Name)
	category := CleanField(item.Category)
	description := CleanField(item.Description)
	variants := variantSentences(item.VariantAttributes)

	if name == "" && category == "" && description == "" && len(variants) == 0 {
		return ""
	}

	var parts []string
	if name != "" {
		// repeated for emphasis
		parts = append(parts, name+".", name+".")
	}
	if category != "" {
		parts = append(parts, "Category: "+category+".")
	}
	if item.Price > 0 {
		parts = append(parts, "Price: "+FormatPrice(item.Price, item.Currency)+".")
	}
	if description != "" {
		parts = append(parts, description)
	}
	parts = append(parts, variants...)

	return strings.Join(parts, " ")
}

// variantSentences over-weights variant attributes: name, an "available X"
// restatement and, for colors, one sentence per value.
func variantSentences(attrs map[string][]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, key := range keys {
		attr := CleanField(key)
		if attr == "" {
			continue
		}
		var values []string
		for _, v := range attrs[key] {
			if v = CleanField(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}

		lower := strings.ToLower(attr)
		out = append(out,
			fmt.Sprintf("%s: %s.", attr, strings.Join(values, ", ")),
			fmt.Sprintf("available %s: %s.", lower, strings.Join(values, ", ")),
		)
		if colorAttributes[lower] {
			for _, v := range values {
				out = append(out, fmt.Sprintf("%s color available.", strings.ToLower(v)))
			}
		}
	}
	return out
}

// ContentHash fingerprints the fields that feed the embedding text, so
// re-imports with identical content do not invalidate the stored vector.
func ContentHash(item *models.CatalogItem) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00",
		item.Name, item.Category, item.Description,
		strconv.FormatFloat(item.Price, 'f', -1, 64), item.Currency)

	keys := make([]string, 0, len(item.VariantAttributes))
	for k := range item.VariantAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\x00", k, strings.Join(item.VariantAttributes[k], "\x01"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
