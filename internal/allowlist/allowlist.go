// Package allowlist normalizes configured allow-entries and resolves
// sender match verdicts for the policy gate.
package allowlist

import (
	"regexp"
	"strings"
)

// Wildcard matches any non-empty sender identifier.
const Wildcard = "*"

// MatchVia reports how a sender matched the allowlist.
type MatchVia string

const (
	ViaNone     MatchVia = "none"
	ViaExact    MatchVia = "exact"
	ViaWildcard MatchVia = "wildcard"
)

// Verdict is the derived allow decision for one sender.
type Verdict struct {
	Allowed bool
	Via     MatchVia
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// IsAddress reports whether a normalized entry is a well-formed wallet address.
func IsAddress(entry string) bool {
	return addressPattern.MatchString(entry)
}

// NormalizeEntry trims and lower-cases one entry. Entries that are neither
// well-formed addresses nor the wildcard pass through as literals; this
// never fails.
func NormalizeEntry(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Normalize normalizes all entries, dropping any that are empty after
// normalization. Order is preserved.
func Normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		e := NormalizeEntry(r)
		if e == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Match resolves the verdict for senderID against entries. Both sides are
// expected in normalized form; Match normalizes defensively anyway.
func Match(entries []string, senderID string) Verdict {
	sender := NormalizeEntry(senderID)
	if sender == "" {
		return Verdict{Allowed: false, Via: ViaNone}
	}

	wildcard := false
	for _, e := range entries {
		switch NormalizeEntry(e) {
		case sender:
			return Verdict{Allowed: true, Via: ViaExact}
		case Wildcard:
			wildcard = true
		}
	}
	if wildcard {
		return Verdict{Allowed: true, Via: ViaWildcard}
	}
	return Verdict{Allowed: false, Via: ViaNone}
}

// Union merges two normalized entry sets, first-seen order, duplicates
// dropped. Used to combine configured entries with pairing-store approvals.
func Union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, e := range append(Normalize(a), Normalize(b)...) {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
