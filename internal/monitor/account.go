package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tgrelay/tgrelay/internal/access"
	"github.com/tgrelay/tgrelay/internal/pairing"
	"github.com/tgrelay/tgrelay/internal/relay"
	"github.com/tgrelay/tgrelay/internal/retry"
	"github.com/tgrelay/tgrelay/internal/rpc"
	"github.com/tgrelay/tgrelay/internal/webhook"
)

// identityInitAttempts caps the startup getMe retries. Exhaustion is
// fatal: the account cannot route mentions without knowing its own name.
const identityInitAttempts = 10

var identityInitPolicy = retry.Policy{
	Initial: 500 * time.Millisecond,
	Max:     30 * time.Second,
	Factor:  2,
	Jitter:  0.2,
}

// Account is the immutable runtime state of one configured account. Only
// BotName changes after construction, during identity initialization and
// before the webhook target is registered.
type Account struct {
	ID          string
	WebhookPath string
	Secret      string
	BotName     string
	Endpoint    relay.Endpoint

	resolver     *access.Resolver
	transformer  *rpc.Transformer
	commandAllow access.AllowSet
	sender       *relay.Sender
	processor    Processor
	pairingStore pairing.Store
	status       *StatusSink
	client       *http.Client
	logger       *slog.Logger
}

// accountDeps are the collaborators shared by all accounts of a module.
type accountDeps struct {
	processor    Processor
	pairingStore pairing.Store
	sender       *relay.Sender
	status       *StatusSink
	client       *http.Client
	logger       *slog.Logger
}

// newAccount merges defaults with the account section and builds the
// runtime.
func newAccount(cfg AccountConfig, defaults Settings, deps accountDeps) (*Account, error) {
	s := mergeSettings(defaults, cfg.Settings)

	dmPolicy, err := access.ParseDMPolicy(s.DMPolicy)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", cfg.ID, err)
	}
	groupPolicy, err := access.ParseGroupPolicy(s.GroupPolicy)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", cfg.ID, err)
	}

	path := s.WebhookPath
	if path == "" {
		path = "/" + cfg.ID
	}
	path = webhook.NormalizePath(path)

	a := &Account{
		ID:          cfg.ID,
		WebhookPath: path,
		Secret:      s.Secret,
		BotName:     s.BotName,
		Endpoint: relay.Endpoint{
			URL:              s.OutboundURL,
			Headers:          s.Headers,
			MaxMessageLength: s.MaxMessageLength,
		},
		commandAllow: access.NewAllowSet(s.CommandAllow),
		sender:       deps.sender,
		processor:    deps.processor,
		pairingStore: deps.pairingStore,
		status:       deps.status,
		client:       deps.client,
		logger:       deps.logger.With("account", cfg.ID),
	}

	var paired access.PairedLookup
	if deps.pairingStore != nil {
		paired = deps.pairingStore
	}
	a.resolver = access.NewResolver(access.Config{
		DMPolicy:        dmPolicy,
		DMAllow:         s.DMAllow,
		GroupPolicy:     groupPolicy,
		Groups:          s.Groups,
		GroupAllowUsers: s.GroupAllowUsers,
	}, cfg.ID, paired, a.logger)

	if s.RPC != nil && s.RPC.URL != "" {
		exclude := s.RPC.Exclude
		if exclude == nil {
			exclude = []string{"getMe"}
		}
		a.transformer = rpc.NewTransformer(rpc.Config{
			URL:                s.RPC.URL,
			Timeout:            s.RPC.Timeout,
			Exclude:            exclude,
			Headers:            s.RPC.Headers,
			MaxAttachmentBytes: s.MaxMediaBytes,
			OnError: func(method string, err error) {
				rpcFailures.WithLabelValues(cfg.ID, method).Inc()
				a.logger.Warn("rpc call failed", "method", method, "error", err)
			},
		}, deps.client, a.directCall, a.logger)
	}

	if a.Endpoint.URL == "" && a.transformer == nil && a.BotName == "" {
		return nil, fmt.Errorf("account %s: needs an outbound_url, an rpc url, or a bot_name", cfg.ID)
	}

	return a, nil
}

// Target builds the webhook registration for the account.
func (a *Account) Target() *webhook.Target {
	return &webhook.Target{
		AccountID: a.ID,
		Path:      a.WebhookPath,
		Secret:    a.Secret,
		Handle:    a.HandleUpdate,
	}
}

// apiCall routes a platform-API call through the transformer when one is
// configured, or straight to the outbound endpoint.
func (a *Account) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	if a.transformer != nil {
		return a.transformer.Call(ctx, method, payload)
	}
	return a.directCall(ctx, method, payload)
}

// directCall posts {method, ...payload} to the outbound endpoint.
func (a *Account) directCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	if a.Endpoint.URL == "" {
		return nil, fmt.Errorf("account %s: outbound url not configured", a.ID)
	}

	body := make(map[string]any, len(payload)+1)
	body["method"] = method
	for k, v := range payload {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint.URL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.Endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &rpc.StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// InitIdentity resolves the bot username via getMe, retrying transient
// failures with backoff. A configured bot_name skips the call entirely.
func (a *Account) InitIdentity(ctx context.Context) error {
	if a.BotName != "" {
		return nil
	}

	op := func(ctx context.Context) error {
		raw, err := a.apiCall(ctx, "getMe", nil)
		if err != nil {
			return err
		}
		username := parseIdentity(raw)
		if username == "" {
			return fmt.Errorf("account %s: getMe returned no username", a.ID)
		}
		a.BotName = username
		return nil
	}

	if err := retry.Do(ctx, identityInitAttempts, identityInitPolicy, op, recoverableInitError); err != nil {
		return fmt.Errorf("account %s: identity init: %w", a.ID, err)
	}

	a.logger.Info("identity resolved", "bot", a.BotName)
	return nil
}

// recoverableInitError classifies identity-init failures. Network errors
// and server-side statuses are worth retrying; anything else (a bad
// token, a malformed response) aborts startup immediately.
func recoverableInitError(err error) bool {
	var statusErr *rpc.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// parseIdentity reads a getMe response, accepting both the nested
// {ok, result:{username}} and the flattened {username} shapes.
func parseIdentity(raw json.RawMessage) string {
	var r struct {
		Result *struct {
			Username string `json:"username"`
		} `json:"result"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return ""
	}
	if r.Result != nil && r.Result.Username != "" {
		return r.Result.Username
	}
	return r.Username
}

// Probe checks endpoint reachability for the status surface.
func (a *Account) Probe(ctx context.Context) rpc.ProbeResult {
	call := func(ctx context.Context) error {
		_, err := a.apiCall(ctx, "getMe", nil)
		return err
	}
	if a.Endpoint.URL == "" && a.transformer == nil {
		call = nil
	}
	result := rpc.Probe(ctx, call, a.WebhookPath, a.Endpoint.URL)
	a.status.RecordProbe(a.ID, result)
	return result
}
