// Package identity derives stable product identity from noisy scraped names:
// normalization, brand/model token extraction, and the dedup fingerprint the
// persistence layer keys on.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Marketing filler that varies between vendors for the same product.
	fillerWords = map[string]bool{
		"the":      true,
		"with":     true,
		"and":      true,
		"for":      true,
		"new":      true,
		"newest":   true,
		"latest":   true,
		"official": true,
		"genuine":  true,
		"original": true,
		"edition":  true,
		"model":    true,
		"renewed":  true,
	}

	knownBrands = []string{
		"apple", "samsung", "sony", "bose", "dell", "hp", "lenovo",
		"microsoft", "jbl", "lg", "asus", "acer", "google", "anker",
		"logitech", "sennheiser", "beats", "jabra",
	}

	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s\-]`)

	// Alphanumeric codes like WH-1000XM4, A2190, QC45, S24: at least one
	// letter and one digit in a single token.
	modelTokenRegex = regexp.MustCompile(`\b(?:[a-z]+[\-]?\d[a-z0-9\-]*|\d+[a-z][a-z0-9\-]*)\b`)
)

// NormalizeName lowercases, strips punctuation and filler words, and
// collapses whitespace.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = nonAlnumRegex.ReplaceAllString(name, " ")

	fields := strings.Fields(name)
	kept := fields[:0]
	for _, f := range fields {
		if fillerWords[f] {
			continue
		}
		kept = append(kept, f)
	}

	return multiSpaceRegex.ReplaceAllString(strings.Join(kept, " "), " ")
}

// ModelTokens extracts alphanumeric model codes from a product name, in
// order of appearance, deduplicated.
func ModelTokens(name string) []string {
	normalized := strings.ToLower(name)
	normalized = nonAlnumRegex.ReplaceAllString(normalized, " ")

	seen := make(map[string]bool)
	var tokens []string
	for _, tok := range modelTokenRegex.FindAllString(normalized, -1) {
		if len(tok) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	return tokens
}

// BrandFromName returns the known brand mentioned in a product name, or "".
func BrandFromName(name string) string {
	lower := " " + strings.ToLower(name) + " "
	for _, brand := range knownBrands {
		if strings.Contains(lower, " "+brand+" ") {
			return brand
		}
	}
	return ""
}

// Fingerprint hashes a product's identity fields into the dedup key the
// store's unique constraint rides on. Brand plus model dominates when a
// model code exists; the normalized name carries identity otherwise.
func Fingerprint(name, brand, model string) string {
	core := strings.ToLower(strings.TrimSpace(model))
	if core == "" {
		tokens := ModelTokens(name)
		if len(tokens) > 0 {
			core = strings.Join(tokens, " ")
		} else {
			core = NormalizeName(name)
		}
	}

	input := fmt.Sprintf("%s|%s", strings.ToLower(strings.TrimSpace(brand)), core)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}
