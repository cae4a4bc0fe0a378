package access

// GroupEntry is the per-group configuration resolved for an inbound group
// message. Enabled and Allow are pointers so an absent field defaults to
// permitted.
type GroupEntry struct {
	Enabled        *bool    `yaml:"enabled"`
	Allow          *bool    `yaml:"allow"`
	RequireMention bool     `yaml:"require_mention"`
	AllowUsers     []string `yaml:"allow_users"`
	SystemPrompt   string   `yaml:"system_prompt"`
}

func (e *GroupEntry) enabled() bool {
	return e.Enabled == nil || *e.Enabled
}

func (e *GroupEntry) allowed() bool {
	return e.Allow == nil || *e.Allow
}

// ResolveGroupEntry selects the configuration entry for a group chat.
// Precedence: exact chat id key, then chat title key, then the "*"
// wildcard key. The wildcard never overrides a specific entry. Returns
// nil when nothing matches.
func ResolveGroupEntry(groups map[string]*GroupEntry, chatID, title string) *GroupEntry {
	if len(groups) == 0 {
		return nil
	}
	if e, ok := groups[chatID]; ok {
		return e
	}
	if title != "" {
		if e, ok := groups[title]; ok {
			return e
		}
	}
	if e, ok := groups["*"]; ok {
		return e
	}
	return nil
}
