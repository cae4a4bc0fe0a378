package access

import "strings"

// AllowSet is a normalized set of sender identifiers. Entries may be
// numeric ids or usernames; matching is case-insensitive and ignores a
// leading "@". A literal "*" entry matches every sender.
type AllowSet struct {
	entries  map[string]struct{}
	wildcard bool
}

// NewAllowSet builds an AllowSet from one or more entry lists. Empty and
// whitespace-only entries are dropped.
func NewAllowSet(lists ...[]string) AllowSet {
	s := AllowSet{entries: make(map[string]struct{})}
	for _, list := range lists {
		for _, raw := range list {
			entry := normalizeEntry(raw)
			if entry == "" {
				continue
			}
			if entry == "*" {
				s.wildcard = true
				continue
			}
			s.entries[entry] = struct{}{}
		}
	}
	return s
}

// Contains reports whether a sender with the given id or username is in
// the set. Either identifier matching is sufficient.
func (s AllowSet) Contains(id, username string) bool {
	if s.wildcard {
		return true
	}
	if id != "" {
		if _, ok := s.entries[normalizeEntry(id)]; ok {
			return true
		}
	}
	if username != "" {
		if _, ok := s.entries[normalizeEntry(username)]; ok {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the set matches nobody.
func (s AllowSet) IsEmpty() bool {
	return !s.wildcard && len(s.entries) == 0
}

func normalizeEntry(v string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(v), "@"))
}
