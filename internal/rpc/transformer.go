// Package rpc forwards outbound platform-API calls to a configured RPC
// endpoint as {method, ...payload} JSON, encoding attachments inline.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// StatusError is returned when the RPC endpoint answers with a non-2xx
// status. The code travels with the error so callers can classify it.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rpc: status %d: %s", e.Code, e.Body)
}

// DirectFunc is the fallback for excluded methods: a call that reaches
// the platform API without the RPC round trip.
type DirectFunc func(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error)

// Config configures a Transformer.
type Config struct {
	// URL is the RPC endpoint receiving {method, ...payload}.
	URL string

	// Timeout bounds each call. Defaults to 30 s. The deadline composes
	// with the caller's context, whichever cancels first wins.
	Timeout time.Duration

	// Exclude lists method names that bypass the RPC path and go through
	// the direct fallback, e.g. getMe for identity resolution.
	Exclude []string

	// Headers are added to every RPC request.
	Headers map[string]string

	// MaxAttachmentBytes caps each encoded attachment's raw size. Zero
	// means no cap. Oversized attachments fail the call before any bytes
	// leave the process.
	MaxAttachmentBytes int64

	// OnError observes every RPC-path failure before it propagates. It
	// fires exactly once per failed call and never for excluded methods.
	OnError func(method string, err error)
}

// Transformer intercepts outbound platform-API calls.
type Transformer struct {
	cfg     Config
	exclude map[string]struct{}
	client  *http.Client
	direct  DirectFunc
	logger  *slog.Logger
}

// NewTransformer creates a Transformer. direct may be nil when no method
// is excluded.
func NewTransformer(cfg Config, client *http.Client, direct DirectFunc, logger *slog.Logger) *Transformer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	exclude := make(map[string]struct{}, len(cfg.Exclude))
	for _, m := range cfg.Exclude {
		exclude[m] = struct{}{}
	}
	return &Transformer{cfg: cfg, exclude: exclude, client: client, direct: direct, logger: logger}
}

// Call forwards one platform-API call. Excluded methods go through the
// direct fallback; everything else is POSTed to the RPC URL. The raw
// response body is returned verbatim for the caller to interpret.
//
// Failed calls are not retried here. Retry is the caller's decision.
func (t *Transformer) Call(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	if _, excluded := t.exclude[method]; excluded {
		if t.direct == nil {
			return nil, fmt.Errorf("rpc: method %s excluded but no direct fallback configured", method)
		}
		return t.direct(ctx, method, payload)
	}

	raw, err := t.post(ctx, method, payload)
	if err != nil {
		if t.cfg.OnError != nil {
			t.cfg.OnError(method, err)
		}
		return nil, err
	}
	return raw, nil
}

func (t *Transformer) post(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	if t.cfg.URL == "" {
		return nil, fmt.Errorf("rpc: url not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	body := make(map[string]any, len(payload)+1)
	body["method"] = method
	for k, v := range payload {
		enc, err := EncodeAttachments(v, t.cfg.MaxAttachmentBytes)
		if err != nil {
			return nil, err
		}
		body[k] = enc
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: post %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("rpc: read %s response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

const maxResponseBytes = 16 << 20
