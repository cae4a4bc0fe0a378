package access

// MentionInput gathers everything the mention gate needs to decide
// whether a group message addresses the bot.
type MentionInput struct {
	// RequireMention is the resolved group setting.
	RequireMention bool
	// WasMentioned is true when a mention entity names the bot itself.
	WasMentioned bool
	// HasAnyMention is true when any mention entity exists, regardless
	// of who it names.
	HasAnyMention bool
	// HasCommand is true when the message carries a control command the
	// deployment accepts without a mention.
	HasCommand bool
	// Authorized is true when the sender may issue control commands.
	Authorized bool
}

// MentionResult is the gate's decision. EffectiveWasMentioned travels on
// the outgoing envelope so downstream consumers know whether the bot was
// explicitly addressed.
type MentionResult struct {
	ShouldSkip            bool
	EffectiveWasMentioned bool
}

// EvaluateMention is the single decision point for mention gating.
//
// With RequireMention off the gate always passes. With it on, the message
// passes when the bot was directly mentioned, or when it carries a
// control command from an authorized sender (the command bypass). A
// message that mentions only other users is skipped like any unmentioned
// one.
func EvaluateMention(in MentionInput) MentionResult {
	if !in.RequireMention {
		return MentionResult{EffectiveWasMentioned: in.WasMentioned}
	}
	if in.WasMentioned {
		return MentionResult{EffectiveWasMentioned: true}
	}
	if in.HasCommand && in.Authorized {
		return MentionResult{}
	}
	return MentionResult{ShouldSkip: true}
}
