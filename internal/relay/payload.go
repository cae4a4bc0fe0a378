package relay

import (
	"encoding/json"
	"strconv"

	"github.com/tgrelay/tgrelay/pkg/message"
)

// ReplyPayload is one outbound wire payload. Exactly one payload is built
// per text chunk or media item; payloads are never mutated after
// construction.
type ReplyPayload struct {
	Kind DeliveryKind

	ChatID              string
	Text                string
	Caption             string
	Attachment          string
	ParseMode           string
	ReplyToMessageID    int64
	MessageThreadID     int64
	DisableNotification bool
	DisablePreview      bool
}

// MarshalJSON renders the wire shape: {method, chat_id, ...} with the
// kind-specific attachment field. A numeric chat id is sent as a number,
// anything else (e.g. "@channelname") as a string.
func (p ReplyPayload) MarshalJSON() ([]byte, error) {
	out := p.Fields()
	out["method"] = p.Kind.Method()
	return json.Marshal(out)
}

// Fields returns the wire fields without the method name, for transports
// that carry the method separately.
func (p ReplyPayload) Fields() map[string]any {
	out := map[string]any{
		"chat_id": chatIDValue(p.ChatID),
	}
	if p.Kind == KindText {
		out["text"] = p.Text
	} else {
		if field := p.Kind.Field(); field != "" {
			out[field] = p.Attachment
		}
		if p.Caption != "" {
			out["caption"] = p.Caption
		}
	}
	if p.ParseMode != "" {
		out["parse_mode"] = p.ParseMode
	}
	if p.ReplyToMessageID != 0 {
		out["reply_to_message_id"] = p.ReplyToMessageID
	}
	if p.MessageThreadID != 0 {
		out["message_thread_id"] = p.MessageThreadID
	}
	if p.DisableNotification {
		out["disable_notification"] = true
	}
	if p.DisablePreview && p.Kind == KindText {
		out["disable_web_page_preview"] = true
	}
	return out
}

func chatIDValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// BuildPayloads chunks the message and produces one payload per text
// chunk or media block, in delivery order.
func BuildPayloads(out message.OutboundMessage, cfg ChunkConfig) []ReplyPayload {
	chunks := SplitMessage(out, cfg)

	var payloads []ReplyPayload
	for _, chunk := range chunks {
		base := ReplyPayload{
			ChatID:           chunk.Chat.ID,
			ReplyToMessageID: parseOptionalInt(chunk.ReplyToID),
			MessageThreadID:  parseOptionalInt(chunk.ThreadID),
		}
		if chunk.Hints != nil {
			base.ParseMode = chunk.Hints.ParseMode
			base.DisableNotification = chunk.Hints.DisableNotification
			base.DisablePreview = chunk.Hints.DisablePreview
		}

		for _, block := range chunk.Blocks {
			p := base
			p.Kind = blockKind(block)
			if p.Kind == KindText {
				p.Text = block.Text
			} else {
				p.Attachment = block.URL
				p.Caption = block.Caption
			}
			payloads = append(payloads, p)
		}
	}
	return payloads
}

// parseOptionalInt converts an optional numeric id string; empty or
// malformed values yield zero, meaning the field is omitted on the wire.
func parseOptionalInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
