// Package validation checks user input before it reaches the store.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var categoryRegex = regexp.MustCompile(`^[a-z0-9-]{2,32}$`)

var reservedCategories = map[string]struct{}{
	"admin":    {},
	"api":      {},
	"health":   {},
	"metrics":  {},
	"ws":       {},
	"settings": {},
}

const (
	MinCommunityNameLen = 3
	MaxCommunityNameLen = 120
)

// ValidateCommunityName trims name and checks its length in runes.
func ValidateCommunityName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinCommunityNameLen || n > MaxCommunityNameLen {
		return "", fmt.Errorf("community name must be %d-%d characters", MinCommunityNameLen, MaxCommunityNameLen)
	}
	return name, nil
}

// ValidateCategory validates category format and reserved names. The
// returned category is lowercased.
func ValidateCategory(category string) (string, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if !categoryRegex.MatchString(category) {
		return "", fmt.Errorf("category must be 2-32 characters and contain only lowercase letters, numbers, and hyphens")
	}
	if strings.HasPrefix(category, "-") || strings.HasSuffix(category, "-") {
		return "", fmt.Errorf("category cannot start or end with a hyphen")
	}
	if _, exists := reservedCategories[category]; exists {
		return "", fmt.Errorf("category is reserved")
	}
	return category, nil
}
