package rpc

import "context"

// ProbeResult is the outcome of a reachability probe for one account.
type ProbeResult struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	WebhookPath string `json:"webhook_path"`
	OutboundURL string `json:"outbound_url"`
}

// Probe runs a lightweight getMe-shaped call and reports the outcome
// together with the account's routing coordinates.
func Probe(ctx context.Context, call func(context.Context) error, webhookPath, outboundURL string) ProbeResult {
	result := ProbeResult{WebhookPath: webhookPath, OutboundURL: outboundURL}
	if call == nil {
		result.Error = "no api endpoint configured"
		return result
	}
	if err := call(ctx); err != nil {
		result.Error = err.Error()
		return result
	}
	result.OK = true
	return result
}
