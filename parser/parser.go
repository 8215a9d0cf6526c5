// Package parser validates and normalises product fields read from the input file.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/listing-uploader/models"
)

// Platform limits for a single listing.
const (
	MaxTags        = 13
	MaxTagLength   = 20
	MaxImages      = 10
	MaxTitleLength = 140
	DefaultQty     = 999
)

// ValidateProduct ensures the loader captured the required fields.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("product missing title")
	}
	if len([]rune(p.Title)) > MaxTitleLength {
		return fmt.Errorf("title longer than %d characters for %q", MaxTitleLength, p.Title)
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("product missing description for %s", p.Title)
	}
	if strings.TrimSpace(p.Price) == "" {
		return fmt.Errorf("product missing price for %s", p.Title)
	}
	value, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return fmt.Errorf("invalid price %q for %s", p.Price, p.Title)
	}
	if value <= 0 {
		return fmt.Errorf("price must be positive for %s", p.Title)
	}
	if len(p.Tags) > MaxTags {
		return fmt.Errorf("%d tags exceed the limit of %d for %s", len(p.Tags), MaxTags, p.Title)
	}
	if len(p.ImagePaths) > MaxImages {
		return fmt.Errorf("%d images exceed the limit of %d for %s", len(p.ImagePaths), MaxImages, p.Title)
	}
	return nil
}

// NormalizePrice strips currency symbols and spacing, and resolves comma
// usage. A comma followed by one or two trailing digits is a decimal comma;
// commas between groups of three digits are thousands separators. When both
// separators appear the last one marks the decimals. Any other comma layout
// is an error.
func NormalizePrice(price string) (string, error) {
	raw := price
	price = strings.TrimSpace(price)
	for _, symbol := range []string{"$", "€", "£", "USD", "EUR", "GBP"} {
		price = strings.ReplaceAll(price, symbol, "")
	}
	price = strings.TrimSpace(price)
	if !strings.Contains(price, ",") {
		return price, nil
	}

	intPart, frac := price, ""
	comma, dot := strings.LastIndex(price, ","), strings.LastIndex(price, ".")
	switch {
	case dot > comma:
		// 1,250.00
		intPart, frac = price[:dot], price[dot+1:]
		if !digits(frac) || !thousandsGroups(intPart, ",") {
			return "", fmt.Errorf("ambiguous price %q", raw)
		}
	case dot >= 0:
		// 1.234,56
		intPart, frac = price[:comma], price[comma+1:]
		if len(frac) < 1 || len(frac) > 2 || !digits(frac) || !thousandsGroups(intPart, ".") {
			return "", fmt.Errorf("ambiguous price %q", raw)
		}
	default:
		tail := price[comma+1:]
		if strings.Count(price, ",") == 1 && len(tail) >= 1 && len(tail) <= 2 && digits(tail) && digits(price[:comma]) {
			intPart, frac = price[:comma], tail
		} else if !thousandsGroups(price, ",") {
			return "", fmt.Errorf("ambiguous price %q", raw)
		}
	}

	intPart = strings.NewReplacer(",", "", ".", "").Replace(intPart)
	if frac == "" {
		return intPart, nil
	}
	return intPart + "." + frac, nil
}

// thousandsGroups reports whether s is a leading group of one to three digits
// followed by sep-separated groups of exactly three.
func thousandsGroups(s, sep string) bool {
	groups := strings.Split(s, sep)
	if len(groups[0]) < 1 || len(groups[0]) > 3 || !digits(groups[0]) {
		return len(groups) == 1 && digits(groups[0])
	}
	for _, g := range groups[1:] {
		if len(g) != 3 || !digits(g) {
			return false
		}
	}
	return true
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SplitTags splits a comma-separated tag cell. Empty, duplicate and
// over-long tags are dropped. The second return reports how many tags were
// discarded, including those past MaxTags.
func SplitTags(cell string) ([]string, int) {
	var (
		tags    []string
		dropped int
		seen    = make(map[string]struct{})
	)
	for _, raw := range strings.Split(cell, ",") {
		tag := strings.Join(strings.Fields(raw), " ")
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		if len([]rune(tag)) > MaxTagLength || len(tags) >= MaxTags {
			dropped++
			continue
		}
		tags = append(tags, tag)
	}
	return tags, dropped
}

// SplitImagePaths splits a semicolon-separated image cell, keeping order and
// capping the list at MaxImages.
func SplitImagePaths(cell string) ([]string, int) {
	var (
		paths   []string
		dropped int
	)
	for _, raw := range strings.Split(cell, ";") {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		if len(paths) >= MaxImages {
			dropped++
			continue
		}
		paths = append(paths, path)
	}
	return paths, dropped
}

// ParseQuantity returns DefaultQty for an empty cell.
func ParseQuantity(cell string) (int, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return DefaultQty, nil
	}
	qty, err := strconv.Atoi(cell)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", cell)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("quantity must be positive, got %d", qty)
	}
	return qty, nil
}
