package types

import (
	"sort"
	"strings"
)

// RecipientSet is the canonical form of a set of destination addresses:
// trimmed, deduplicated, sorted and comma-joined. Two sets built from the same
// addresses in any order compare equal, so a RecipientSet can key a map.
type RecipientSet string

// NewRecipientSet canonicalizes the given addresses. Empty entries are dropped.
func NewRecipientSet(addrs ...string) RecipientSet {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return RecipientSet(strings.Join(out, ","))
}

// Addresses returns the sorted addresses. The slice is freshly allocated.
func (s RecipientSet) Addresses() []string {
	if s == "" {
		return nil
	}
	return strings.Split(string(s), ",")
}

// Len returns the number of addresses in the set.
func (s RecipientSet) Len() int {
	if s == "" {
		return 0
	}
	return strings.Count(string(s), ",") + 1
}

// IsEmpty reports whether the set has no addresses.
func (s RecipientSet) IsEmpty() bool { return s == "" }

// String returns the canonical comma-joined form.
func (s RecipientSet) String() string { return string(s) }
