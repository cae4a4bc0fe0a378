package relay

import (
	"encoding/json"
	"testing"

	"github.com/tgrelay/tgrelay/pkg/message"
)

func TestDeliveryKind_Methods(t *testing.T) {
	tests := []struct {
		kind   DeliveryKind
		method string
		field  string
	}{
		{KindText, "sendMessage", ""},
		{KindPhoto, "sendPhoto", "photo"},
		{KindDocument, "sendDocument", "document"},
		{KindAudio, "sendAudio", "audio"},
		{KindVideo, "sendVideo", "video"},
		{KindVoice, "sendVoice", "voice"},
	}
	for _, tt := range tests {
		if got := tt.kind.Method(); got != tt.method {
			t.Errorf("%s.Method() = %q, want %q", tt.kind, got, tt.method)
		}
		if got := tt.kind.Field(); got != tt.field {
			t.Errorf("%s.Field() = %q, want %q", tt.kind, got, tt.field)
		}
	}
}

func marshalPayload(t *testing.T, p ReplyPayload) map[string]any {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestReplyPayload_TextWire(t *testing.T) {
	m := marshalPayload(t, ReplyPayload{
		Kind:                KindText,
		ChatID:              "42",
		Text:                "hello",
		ParseMode:           "MarkdownV2",
		ReplyToMessageID:    9,
		MessageThreadID:     3,
		DisableNotification: true,
		DisablePreview:      true,
	})

	if m["method"] != "sendMessage" || m["text"] != "hello" {
		t.Errorf("payload = %v", m)
	}
	if m["chat_id"] != float64(42) {
		t.Errorf("chat_id = %v, want numeric 42", m["chat_id"])
	}
	if m["parse_mode"] != "MarkdownV2" {
		t.Errorf("parse_mode = %v", m["parse_mode"])
	}
	if m["reply_to_message_id"] != float64(9) || m["message_thread_id"] != float64(3) {
		t.Errorf("reply/thread = %v / %v", m["reply_to_message_id"], m["message_thread_id"])
	}
	if m["disable_notification"] != true || m["disable_web_page_preview"] != true {
		t.Errorf("flags = %v", m)
	}
}

func TestReplyPayload_OmitsZeroFields(t *testing.T) {
	m := marshalPayload(t, ReplyPayload{Kind: KindText, ChatID: "42", Text: "hi"})
	for _, field := range []string{"parse_mode", "reply_to_message_id", "message_thread_id", "disable_notification", "caption"} {
		if _, ok := m[field]; ok {
			t.Errorf("field %q present in minimal payload", field)
		}
	}
}

func TestReplyPayload_NonNumericChatID(t *testing.T) {
	m := marshalPayload(t, ReplyPayload{Kind: KindText, ChatID: "@channelname", Text: "hi"})
	if m["chat_id"] != "@channelname" {
		t.Errorf("chat_id = %v, want string passthrough", m["chat_id"])
	}
}

func TestBuildPayloads_MixedBlocks(t *testing.T) {
	out := message.OutboundMessage{
		Chat:      message.Chat{ID: "42"},
		ReplyToID: "7",
		Blocks: []message.ContentBlock{
			{Type: message.BlockImage, URL: "tg://file_id/abc", Caption: "cap"},
			message.NewTextBlock("hello"),
		},
	}
	payloads := BuildPayloads(out, ChunkConfig{MaxLength: 4096})
	if len(payloads) != 2 {
		t.Fatalf("payloads = %d, want 2", len(payloads))
	}
	if payloads[0].Kind != KindPhoto || payloads[0].Attachment != "tg://file_id/abc" || payloads[0].Caption != "cap" {
		t.Errorf("photo payload = %+v", payloads[0])
	}
	if payloads[1].Kind != KindText || payloads[1].Text != "hello" {
		t.Errorf("text payload = %+v", payloads[1])
	}
	for i, p := range payloads {
		if p.ReplyToMessageID != 7 {
			t.Errorf("payload %d reply id = %d, want 7", i, p.ReplyToMessageID)
		}
	}
}

func TestBuildPayloads_VoiceVsAudio(t *testing.T) {
	out := message.OutboundMessage{
		Chat: message.Chat{ID: "1"},
		Blocks: []message.ContentBlock{
			message.NewAudioBlock("u1", "audio/mp3", false),
			message.NewAudioBlock("u2", "audio/ogg", true),
		},
	}
	payloads := BuildPayloads(out, ChunkConfig{})
	if len(payloads) != 2 {
		t.Fatalf("payloads = %d, want 2", len(payloads))
	}
	if payloads[0].Kind != KindAudio || payloads[1].Kind != KindVoice {
		t.Errorf("kinds = %s, %s", payloads[0].Kind, payloads[1].Kind)
	}
}
