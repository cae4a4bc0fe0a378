package rpc

import (
	"encoding/base64"
	"fmt"
)

// Attachment is a sendable file inside an outbound payload. The wire
// cannot carry it as-is; EncodeAttachments converts it to a file_data
// field before the payload is serialized.
type Attachment struct {
	Data     []byte
	Filename string
}

// EncodeAttachments walks a payload value and replaces every Attachment
// with {"file_data": {"base64": ..., "filename": ...}}. It recurses into
// maps and slices so attachments nested in media groups are encoded too.
// Non-attachment values pass through unchanged.
//
// maxBytes caps each attachment's raw size; zero disables the cap. An
// oversized attachment fails the whole encode so the payload never
// reaches the wire partially.
func EncodeAttachments(v any, maxBytes int64) (any, error) {
	switch val := v.(type) {
	case *Attachment:
		if val == nil {
			return nil, nil
		}
		return encodeAttachment(*val, maxBytes)
	case Attachment:
		return encodeAttachment(val, maxBytes)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			enc, err := EncodeAttachments(item, maxBytes)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			enc, err := EncodeAttachments(item, maxBytes)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	default:
		return v, nil
	}
}

func encodeAttachment(a Attachment, maxBytes int64) (map[string]any, error) {
	if maxBytes > 0 && int64(len(a.Data)) > maxBytes {
		name := a.Filename
		if name == "" {
			name = "attachment"
		}
		return nil, fmt.Errorf("rpc: %s is %d bytes, media limit is %d", name, len(a.Data), maxBytes)
	}
	fileData := map[string]any{
		"base64": base64.StdEncoding.EncodeToString(a.Data),
	}
	if a.Filename != "" {
		fileData["filename"] = a.Filename
	}
	return map[string]any{"file_data": fileData}, nil
}
