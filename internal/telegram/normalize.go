package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/tgrelay/tgrelay/pkg/message"
)

// fileIDRef returns a reference URI for a Telegram file_id. This is NOT a
// download URL — the tg://file_id/ scheme signals that consumers must
// resolve it through the platform API before use.
func fileIDRef(fileID string) string {
	return "tg://file_id/" + fileID
}

// Normalize transforms a Telegram Update into a platform-agnostic
// InboundMessage for the given account. It returns an error when the update
// carries none of message, edited_message, or channel_post.
func Normalize(update *Update, botUsername, accountID string) (message.InboundMessage, error) {
	msg := ExtractMessage(update)
	if msg == nil {
		return message.InboundMessage{}, fmt.Errorf("telegram: update contains no message")
	}

	raw, err := json.Marshal(update)
	if err != nil {
		return message.InboundMessage{}, fmt.Errorf("telegram: marshal update: %w", err)
	}

	inbound := message.InboundMessage{
		ID:        strconv.FormatInt(msg.MessageID, 10),
		Timestamp: time.Unix(msg.Date, 0),
		AccountID: accountID,
		Sender:    convertSender(msg.From),
		Chat:      convertChat(msg.Chat),
		Raw:       raw,
	}

	if msg.MessageThreadID != 0 {
		inbound.ThreadID = strconv.FormatInt(msg.MessageThreadID, 10)
	}
	if msg.ReplyToMessage != nil {
		inbound.ReplyToID = strconv.FormatInt(msg.ReplyToMessage.MessageID, 10)
	}

	inbound.Blocks = convertBlocks(msg)
	inbound.Mentions = extractMentions(msg, botUsername)

	return inbound, nil
}

// ExtractMessage returns the actual message from an Update, checking
// Message, EditedMessage, and ChannelPost in order.
func ExtractMessage(update *Update) *Message {
	if update.Message != nil {
		return update.Message
	}
	if update.EditedMessage != nil {
		return update.EditedMessage
	}
	return update.ChannelPost
}

// convertSender maps a Telegram User to a platform-agnostic Sender.
func convertSender(user *User) message.Sender {
	if user == nil {
		return message.Sender{}
	}
	displayName := user.FirstName
	if user.LastName != "" {
		displayName += " " + user.LastName
	}
	return message.Sender{
		ID:          strconv.FormatInt(user.ID, 10),
		Username:    user.Username,
		DisplayName: displayName,
		IsBot:       user.IsBot,
	}
}

// convertChat maps a Telegram Chat to a platform-agnostic Chat.
func convertChat(chat Chat) message.Chat {
	return message.Chat{
		ID:    strconv.FormatInt(chat.ID, 10),
		Type:  MapChatType(chat.Type),
		Title: chat.Title,
	}
}

// MapChatType converts Telegram chat type strings to message.ChatType.
func MapChatType(tgType string) message.ChatType {
	switch tgType {
	case "private":
		return message.ChatDM
	case "group", "supergroup":
		return message.ChatGroup
	case "channel":
		return message.ChatBroadcast
	default:
		return message.ChatGroup
	}
}

// convertBlocks builds content blocks from a Telegram message.
// Media URLs use a tg://file_id/ reference.
func convertBlocks(msg *Message) []message.ContentBlock {
	var blocks []message.ContentBlock

	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		blocks = append(blocks, message.NewImageBlock(fileIDRef(largest.FileID), ""))
	case msg.Audio != nil:
		blocks = append(blocks, message.NewAudioBlock(fileIDRef(msg.Audio.FileID), msg.Audio.MIMEType, false))
	case msg.Voice != nil:
		blocks = append(blocks, message.NewAudioBlock(fileIDRef(msg.Voice.FileID), msg.Voice.MIMEType, true))
	case msg.Video != nil:
		blocks = append(blocks, message.NewVideoBlock(fileIDRef(msg.Video.FileID), msg.Video.MIMEType))
	case msg.Document != nil:
		blocks = append(blocks, message.NewFileBlock(fileIDRef(msg.Document.FileID), msg.Document.MIMEType, msg.Document.FileName))
	}

	// Append caption as a text block after media blocks.
	if msg.Caption != "" {
		blocks = append(blocks, message.NewTextBlock(msg.Caption))
	}

	// If no media was found, use the text field.
	if len(blocks) == 0 && msg.Text != "" {
		blocks = append(blocks, message.NewTextBlock(msg.Text))
	}

	return blocks
}

// extractMentions scans message entities for mention and text_mention kinds
// and detects whether the bot itself was addressed. HasAny reflects the
// presence of a mention entity even when its target cannot be resolved
// (an offset outside the text, a text_mention without a user).
func extractMentions(msg *Message, botUsername string) *message.Mentions {
	entities := msg.Entities
	text := msg.Text
	if len(entities) == 0 {
		entities = msg.CaptionEntities
		text = msg.Caption
	}
	if len(entities) == 0 {
		return nil
	}

	var mentions message.Mentions

	for _, ent := range entities {
		switch ent.Type {
		case "mention":
			mentions.HasAny = true
			// @username mentions — extract the username from the text.
			username := strings.TrimPrefix(extractEntityText(text, ent.Offset, ent.Length), "@")
			if username != "" {
				mentions.IDs = append(mentions.IDs, username)
				if strings.EqualFold(username, botUsername) {
					mentions.IsMentioned = true
				}
			}
		case "text_mention":
			mentions.HasAny = true
			// Mentions of users without usernames — carries the User inline.
			if ent.User != nil {
				mentions.IDs = append(mentions.IDs, strconv.FormatInt(ent.User.ID, 10))
				if ent.User.Username != "" && strings.EqualFold(ent.User.Username, botUsername) {
					mentions.IsMentioned = true
				}
			}
		}
	}

	if mentions.IsEmpty() {
		return nil
	}
	return &mentions
}

// extractEntityText safely extracts a substring from text using UTF-16
// offsets, which is what Telegram uses for entity offsets and lengths.
// Non-BMP characters (emojis) occupy two code units, so byte slicing
// would land mid-rune.
func extractEntityText(text string, offset, length int) string {
	encoded := utf16.Encode([]rune(text))
	if offset < 0 || offset >= len(encoded) {
		return ""
	}
	end := offset + length
	if end > len(encoded) {
		end = len(encoded)
	}
	return string(utf16.Decode(encoded[offset:end]))
}
