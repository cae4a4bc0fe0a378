// Package relay delivers outbound replies to an account's configured
// relay endpoint, one JSON payload per chunk or media item.
package relay

import "github.com/tgrelay/tgrelay/pkg/message"

// DeliveryKind selects the platform method and attachment field for one
// outbound payload.
type DeliveryKind string

const (
	KindText     DeliveryKind = "text"
	KindPhoto    DeliveryKind = "photo"
	KindDocument DeliveryKind = "document"
	KindAudio    DeliveryKind = "audio"
	KindVideo    DeliveryKind = "video"
	KindVoice    DeliveryKind = "voice"
)

// Method returns the platform API method for the kind.
func (k DeliveryKind) Method() string {
	switch k {
	case KindText:
		return "sendMessage"
	case KindPhoto:
		return "sendPhoto"
	case KindDocument:
		return "sendDocument"
	case KindAudio:
		return "sendAudio"
	case KindVideo:
		return "sendVideo"
	case KindVoice:
		return "sendVoice"
	default:
		return "sendMessage"
	}
}

// Field returns the JSON field name carrying the attachment reference.
// Text payloads have no attachment field.
func (k DeliveryKind) Field() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindDocument:
		return "document"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindVoice:
		return "voice"
	default:
		return ""
	}
}

// blockKind maps a content block to its delivery kind.
func blockKind(b message.ContentBlock) DeliveryKind {
	switch b.Type {
	case message.BlockImage:
		return KindPhoto
	case message.BlockAudio:
		if b.IsVoice {
			return KindVoice
		}
		return KindAudio
	case message.BlockVideo:
		return KindVideo
	case message.BlockFile:
		return KindDocument
	default:
		return KindText
	}
}
