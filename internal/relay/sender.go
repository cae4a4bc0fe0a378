package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tgrelay/tgrelay/pkg/message"
)

const (
	defaultMaxMessageLength = 4096
	defaultSendTimeout      = 30 * time.Second
)

// Endpoint is one account's outbound delivery target.
type Endpoint struct {
	// URL receives the JSON payloads. Empty is a configuration failure
	// reported per delivery, never an error raised past the call site.
	URL string

	// Headers are added to every request, on top of Content-Type.
	Headers map[string]string

	// MaxMessageLength bounds text chunks. Defaults to 4096.
	MaxMessageLength int
}

// Result is the outcome of delivering one payload. Failures carry an
// error description and delivery continues with the next payload.
type Result struct {
	OK        bool
	MessageID string
	ChatID    string
	Error     string
}

// Sender posts reply payloads to relay endpoints.
type Sender struct {
	client *http.Client
	logger *slog.Logger
}

// NewSender creates a Sender. A nil client gets a default with a 30 s
// timeout.
func NewSender(client *http.Client, logger *slog.Logger) *Sender {
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{client: client, logger: logger}
}

// Send delivers the message to the endpoint, one POST per chunk or media
// item. It returns one Result per payload; a failed payload does not stop
// the remaining ones. Partial delivery is therefore possible and visible
// in the results.
func (s *Sender) Send(ctx context.Context, ep Endpoint, out message.OutboundMessage) []Result {
	if ep.URL == "" {
		return []Result{{Error: "outbound url not configured"}}
	}

	maxLen := ep.MaxMessageLength
	if maxLen <= 0 {
		maxLen = defaultMaxMessageLength
	}
	payloads := BuildPayloads(out, ChunkConfig{MaxLength: maxLen, PreserveBlocks: true})

	results := make([]Result, 0, len(payloads))
	for _, p := range payloads {
		res := s.deliver(ctx, ep, p)
		if !res.OK {
			s.logger.Warn("outbound delivery failed",
				"url", ep.URL,
				"method", p.Kind.Method(),
				"chat", p.ChatID,
				"error", res.Error,
			)
		}
		results = append(results, res)
	}
	return results
}

// CallFunc executes one platform-API call: the method name plus its JSON
// fields, returning the raw response body.
type CallFunc func(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error)

// SendVia delivers the message through call instead of posting payloads
// to an endpoint directly. Accounts whose platform-API traffic is
// intercepted use this path so replies travel the same way as every
// other API call. Result semantics match Send: one Result per payload,
// failures do not stop the remaining ones.
func (s *Sender) SendVia(ctx context.Context, call CallFunc, maxLen int, out message.OutboundMessage) []Result {
	if maxLen <= 0 {
		maxLen = defaultMaxMessageLength
	}
	payloads := BuildPayloads(out, ChunkConfig{MaxLength: maxLen, PreserveBlocks: true})

	results := make([]Result, 0, len(payloads))
	for _, p := range payloads {
		res := s.deliverCall(ctx, call, p)
		if !res.OK {
			s.logger.Warn("outbound delivery failed",
				"method", p.Kind.Method(),
				"chat", p.ChatID,
				"error", res.Error,
			)
		}
		results = append(results, res)
	}
	return results
}

func (s *Sender) deliverCall(ctx context.Context, call CallFunc, p ReplyPayload) Result {
	raw, err := call(ctx, p.Kind.Method(), p.Fields())
	if err != nil {
		return Result{Error: err.Error()}
	}
	return parseSendResponse(raw)
}

// SendText delivers a single text message and returns its Result.
func (s *Sender) SendText(ctx context.Context, ep Endpoint, chatID, text string) Result {
	out := message.NewTextMessage(message.Chat{ID: chatID}, text)
	results := s.Send(ctx, ep, out)
	if len(results) == 0 {
		return Result{Error: "nothing to send"}
	}
	return results[0]
}

func (s *Sender) deliver(ctx context.Context, ep Endpoint, p ReplyPayload) Result {
	body, err := json.Marshal(p)
	if err != nil {
		return Result{Error: fmt.Sprintf("encode payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("post %s: %v", p.Kind.Method(), err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{Error: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Error: fmt.Sprintf("%s: status %d: %s", p.Kind.Method(), resp.StatusCode, truncate(respBody, 200))}
	}

	return parseSendResponse(respBody)
}

const maxResponseBytes = 1 << 20

// sendResponse accepts both response shapes: the nested
// {ok, result:{message_id, chat:{id}}} and the flattened
// {ok, message_id, chat_id}.
type sendResponse struct {
	OK     *bool `json:"ok"`
	Result *struct {
		MessageID int64 `json:"message_id"`
		Chat      *struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"result"`
	MessageID   int64  `json:"message_id"`
	ChatID      int64  `json:"chat_id"`
	Description string `json:"description"`
}

// parseSendResponse reads a 2xx response body permissively. An
// unparseable or empty body still counts as delivered; only an explicit
// ok:false is a failure.
func parseSendResponse(body []byte) Result {
	var r sendResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{OK: true}
	}
	if r.OK != nil && !*r.OK {
		desc := r.Description
		if desc == "" {
			desc = "endpoint reported ok=false"
		}
		return Result{Error: desc}
	}

	res := Result{OK: true}
	switch {
	case r.Result != nil:
		if r.Result.MessageID != 0 {
			res.MessageID = strconv.FormatInt(r.Result.MessageID, 10)
		}
		if r.Result.Chat != nil && r.Result.Chat.ID != 0 {
			res.ChatID = strconv.FormatInt(r.Result.Chat.ID, 10)
		}
	default:
		if r.MessageID != 0 {
			res.MessageID = strconv.FormatInt(r.MessageID, 10)
		}
		if r.ChatID != 0 {
			res.ChatID = strconv.FormatInt(r.ChatID, 10)
		}
	}
	return res
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
