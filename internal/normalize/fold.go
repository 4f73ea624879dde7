package normalize

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns the case-folded form used for case-insensitive matching
func Fold(s string) string {
	return cases.Fold().String(s)
}

// ContainsFold reports whether substr is within s, ignoring case
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}
