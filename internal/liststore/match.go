package liststore

import "strings"

// isPattern reports whether an entry is a wildcard pattern rather than a literal identity.
func isPattern(entry string) bool {
	return strings.Contains(entry, "*")
}

// MatchEntry checks an identity against one list entry.
// Literal entries match exactly. An entry containing "*" matches any identity
// that starts with the text before the first "*" ("payment-*" matches
// "payment-42" but not "paymentx-42"; "*" alone matches everything).
// Matching is case-sensitive: identities are opaque.
func MatchEntry(entry, identity string) bool {
	idx := strings.IndexByte(entry, '*')
	if idx < 0 {
		return entry == identity
	}
	return strings.HasPrefix(identity, entry[:idx])
}
