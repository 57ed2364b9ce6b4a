// Package pattern maintains per-customer histories of confirmed
// recipient/account pairs and derives their learned confidence.
package pattern

import (
	"strings"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/model"
)

// namesMatch applies bidirectional substring containment, the deliberately
// permissive fuzzy policy for recipient names: "SMITH" matches "JOHN SMITH
// JR" and vice versa. Empty names never match.
func namesMatch(a, b string) bool {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// accountsMatch compares account numbers by digits alone, ignoring
// whitespace and hyphens.
func accountsMatch(a, b string) bool {
	a = bank.NormalizeAccount(a)
	b = bank.NormalizeAccount(b)
	if a == "" || b == "" {
		return false
	}
	return a == b
}

// Matches reports whether an extracted (recipient, account) observation
// identifies the same recipient as the stored pattern. A normalized account
// match OR a fuzzy name match is sufficient.
func Matches(p model.RecipientPattern, recipient, account string) bool {
	return accountsMatch(p.ExtractedAccount, account) || namesMatch(p.ExtractedName, recipient)
}

// findMatch returns the index of the first stored pattern matching the
// observation, or -1.
func findMatch(patterns []model.RecipientPattern, recipient, account string) int {
	for i, p := range patterns {
		if Matches(p, recipient, account) {
			return i
		}
	}
	return -1
}
