package models

import (
	"sort"
	"strings"
)

// Category selects the family of catalog documents an operation targets.
type Category string

const (
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
)

// NormalizeCategory folds free-form input onto one of the three categories.
// Anything unrecognised is a document.
func NormalizeCategory(v string) Category {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "image", "images":
		return CategoryImage
	case "video", "videos":
		return CategoryVideo
	default:
		return CategoryDocument
	}
}

// CategoryVariants returns the spellings older documents may carry for a
// category: as given, lower-cased, singular and plural.
func CategoryVariants(v string) []string {
	c := strings.TrimSpace(v)
	if c == "" {
		return nil
	}
	low := strings.ToLower(c)
	base := strings.TrimSuffix(low, "s")

	set := map[string]struct{}{c: {}, low: {}, base: {}, base + "s": {}}
	out := make([]string, 0, len(set))
	for k := range set {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Document status values.
const (
	StatusActive = "active"
	StatusHidden = "hidden"
)

// ActiveStatuses lists the status values treated as visible.
var ActiveStatuses = []string{"active", "activity"}

// IsVisible reports whether a stored status should be shown to users.
func IsVisible(status string) bool {
	return !strings.EqualFold(strings.TrimSpace(status), StatusHidden)
}
