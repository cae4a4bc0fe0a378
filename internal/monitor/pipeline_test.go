package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tgrelay/tgrelay/internal/access"
	"github.com/tgrelay/tgrelay/internal/pairing"
	"github.com/tgrelay/tgrelay/internal/telegram"
	"github.com/tgrelay/tgrelay/pkg/message"
)

// echoBack replies with the inbound text prefixed by "echo: ".
func echoBack() Processor {
	return ProcessorFunc(func(ctx context.Context, msg *message.InboundMessage, deliver DeliverFunc) error {
		out := message.NewTextMessage(msg.Chat, "echo: "+msg.TextContent())
		deliver(ctx, out)
		return nil
	})
}

// relayCapture is a fake outbound endpoint recording every payload.
type relayCapture struct {
	mu       sync.Mutex
	payloads []map[string]any
	srv      *httptest.Server
}

func newRelayCapture(t *testing.T) *relayCapture {
	t.Helper()
	rc := &relayCapture{}
	rc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		_ = json.NewDecoder(r.Body).Decode(&p)
		rc.mu.Lock()
		rc.payloads = append(rc.payloads, p)
		rc.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"message_id":1,"chat_id":100}`))
	}))
	t.Cleanup(rc.srv.Close)
	return rc
}

func (rc *relayCapture) sent() []map[string]any {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]map[string]any(nil), rc.payloads...)
}

// memoryPairing is an in-memory pairing.Store for pipeline tests.
type memoryPairing struct {
	mu       sync.Mutex
	requests map[string]pairing.Request
	approved map[string]bool
}

func newMemoryPairing() *memoryPairing {
	return &memoryPairing{
		requests: make(map[string]pairing.Request),
		approved: make(map[string]bool),
	}
}

func (m *memoryPairing) key(channel, externalID string) string { return channel + "/" + externalID }

func (m *memoryPairing) IsPaired(_ context.Context, channel, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approved[m.key(channel, externalID)], nil
}

func (m *memoryPairing) Request(_ context.Context, req pairing.Request) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.requests[m.key(req.Channel, req.ExternalID)]; ok {
		return existing.Code, false, nil
	}
	req.Code = pairing.NewCode()
	m.requests[m.key(req.Channel, req.ExternalID)] = req
	return req.Code, true, nil
}

func (m *memoryPairing) Approve(_ context.Context, code string) (pairing.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, req := range m.requests {
		if req.Code == code {
			m.approved[k] = true
			req.Status = pairing.StatusApproved
			return req, nil
		}
	}
	return pairing.Request{}, pairing.ErrNotFound
}

func (m *memoryPairing) List(_ context.Context, channel string) ([]pairing.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pairing.Request
	for _, req := range m.requests {
		if req.Channel == channel {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memoryPairing) AllowEntries(_ context.Context, channel string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, req := range m.requests {
		if req.Channel == channel && m.approved[k] {
			out = append(out, req.ExternalID)
		}
	}
	return out, nil
}

func dmUpdate(senderID int64, text string) *telegram.Update {
	id := int64(1)
	return &telegram.Update{
		UpdateID: &id,
		Message: &telegram.Message{
			MessageID: 10,
			Date:      1700000000,
			From:      &telegram.User{ID: senderID, Username: "sender", FirstName: "S"},
			Chat:      telegram.Chat{ID: senderID, Type: "private"},
			Text:      text,
		},
	}
}

func groupUpdate(text string, entities []telegram.MessageEntity) *telegram.Update {
	id := int64(2)
	return &telegram.Update{
		UpdateID: &id,
		Message: &telegram.Message{
			MessageID: 11,
			Date:      1700000000,
			From:      &telegram.User{ID: 5, Username: "sender", FirstName: "S"},
			Chat:      telegram.Chat{ID: -100123, Type: "supergroup", Title: "Team"},
			Text:      text,
			Entities:  entities,
		},
	}
}

func pipelineAccount(t *testing.T, settings Settings, deps accountDeps) *Account {
	t.Helper()
	acc, err := newAccount(AccountConfig{ID: "main", Settings: settings}, Settings{}, deps)
	if err != nil {
		t.Fatalf("newAccount: %v", err)
	}
	return acc
}

func TestHandleUpdate_EchoRoundTrip(t *testing.T) {
	rc := newRelayCapture(t)
	deps := testDeps(t, echoBack())
	deps.client = rc.srv.Client()

	acc := pipelineAccount(t, Settings{OutboundURL: rc.srv.URL, BotName: "mybot", DMPolicy: "open"}, deps)
	acc.HandleUpdate(context.Background(), dmUpdate(42, "hello"))

	sent := rc.sent()
	if len(sent) != 1 {
		t.Fatalf("payloads = %d, want 1", len(sent))
	}
	if sent[0]["method"] != "sendMessage" || sent[0]["text"] != "echo: hello" {
		t.Errorf("payload = %v", sent[0])
	}
	if sent[0]["chat_id"] != float64(42) {
		t.Errorf("chat_id = %v", sent[0]["chat_id"])
	}

	snap := deps.status.Snapshot()
	if snap[0].Updates != 1 || snap[0].Accepted != 1 {
		t.Errorf("status = %+v", snap[0])
	}
}

func TestHandleUpdate_RPCOnlyDelivery(t *testing.T) {
	rc := newRelayCapture(t)
	deps := testDeps(t, echoBack())
	deps.client = rc.srv.Client()

	// No outbound_url: replies must travel as platform-API calls through
	// the RPC endpoint.
	acc := pipelineAccount(t, Settings{
		BotName:  "mybot",
		DMPolicy: "open",
		RPC:      &RPCSettings{URL: rc.srv.URL},
	}, deps)
	acc.HandleUpdate(context.Background(), dmUpdate(42, "hello"))

	sent := rc.sent()
	if len(sent) != 1 {
		t.Fatalf("rpc calls = %d, want 1", len(sent))
	}
	if sent[0]["method"] != "sendMessage" || sent[0]["text"] != "echo: hello" {
		t.Errorf("payload = %v", sent[0])
	}
	if sent[0]["chat_id"] != float64(42) {
		t.Errorf("chat_id = %v", sent[0]["chat_id"])
	}

	snap := deps.status.Snapshot()
	if snap[0].Accepted != 1 {
		t.Errorf("status = %+v", snap[0])
	}
	if snap[0].LastError != "" {
		t.Errorf("LastError = %q, want none", snap[0].LastError)
	}
}

func TestNotifyPaired_RPCOnlyAccount(t *testing.T) {
	rc := newRelayCapture(t)
	deps := testDeps(t, noopProcessor())
	deps.client = rc.srv.Client()

	acc := pipelineAccount(t, Settings{BotName: "mybot", RPC: &RPCSettings{URL: rc.srv.URL}}, deps)
	res := acc.NotifyPaired(context.Background(), "77")
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}

	sent := rc.sent()
	if len(sent) != 1 {
		t.Fatalf("rpc calls = %d, want 1", len(sent))
	}
	if sent[0]["method"] != "sendMessage" || sent[0]["chat_id"] != float64(77) {
		t.Errorf("payload = %v", sent[0])
	}
}

func TestHandleUpdate_RejectionIsSilent(t *testing.T) {
	rc := newRelayCapture(t)
	processed := false
	deps := testDeps(t, ProcessorFunc(func(context.Context, *message.InboundMessage, DeliverFunc) error {
		processed = true
		return nil
	}))
	deps.client = rc.srv.Client()

	acc := pipelineAccount(t, Settings{OutboundURL: rc.srv.URL, BotName: "mybot", DMPolicy: "disabled"}, deps)
	acc.HandleUpdate(context.Background(), dmUpdate(42, "hello"))

	if processed {
		t.Error("rejected update must not reach the processor")
	}
	if len(rc.sent()) != 0 {
		t.Error("rejected sender must receive nothing")
	}
	if snap := deps.status.Snapshot(); snap[0].Rejected != 1 {
		t.Errorf("status = %+v", snap[0])
	}
}

func TestHandleUpdate_PairingFirstContact(t *testing.T) {
	rc := newRelayCapture(t)
	store := newMemoryPairing()
	processed := 0
	deps := testDeps(t, ProcessorFunc(func(context.Context, *message.InboundMessage, DeliverFunc) error {
		processed++
		return nil
	}))
	deps.client = rc.srv.Client()
	deps.pairingStore = store

	acc := pipelineAccount(t, Settings{OutboundURL: rc.srv.URL, BotName: "mybot", DMPolicy: "pairing"}, deps)

	// First contact: exactly one pairing-code reply, nothing processed.
	acc.HandleUpdate(context.Background(), dmUpdate(555, "hi"))
	sent := rc.sent()
	if len(sent) != 1 {
		t.Fatalf("payloads = %d, want the single pairing reply", len(sent))
	}
	text, _ := sent[0]["text"].(string)
	if !strings.Contains(text, "Pairing code: ") {
		t.Errorf("reply = %q", text)
	}
	if processed != 0 {
		t.Error("unpaired message must not be processed")
	}

	// Resend before approval: silent.
	acc.HandleUpdate(context.Background(), dmUpdate(555, "hi again"))
	if len(rc.sent()) != 1 {
		t.Error("resend must not trigger another code reply")
	}

	// Approve, then the next message flows through.
	reqs, _ := store.List(context.Background(), "main")
	if _, err := store.Approve(context.Background(), reqs[0].Code); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	acc.HandleUpdate(context.Background(), dmUpdate(555, "finally"))
	if processed != 1 {
		t.Errorf("processed = %d, want 1 after approval", processed)
	}
}

func TestHandleUpdate_GroupMentionGate(t *testing.T) {
	rc := newRelayCapture(t)
	var gotMentioned *bool
	deps := testDeps(t, ProcessorFunc(func(_ context.Context, msg *message.InboundMessage, _ DeliverFunc) error {
		v := msg.WasMentioned
		gotMentioned = &v
		return nil
	}))
	deps.client = rc.srv.Client()

	acc := pipelineAccount(t, Settings{
		OutboundURL: rc.srv.URL,
		BotName:     "mybot",
		GroupPolicy: "allowlist",
		Groups:      map[string]*access.GroupEntry{"-100123": {RequireMention: true}},
	}, deps)

	// No mention: gated out.
	acc.HandleUpdate(context.Background(), groupUpdate("just chatting", nil))
	if gotMentioned != nil {
		t.Fatal("unmentioned group message must be skipped")
	}

	// "hello @mybot" with a mention entity spanning "@mybot".
	acc.HandleUpdate(context.Background(), groupUpdate("hello @mybot", []telegram.MessageEntity{
		{Type: "mention", Offset: 6, Length: 6},
	}))
	if gotMentioned == nil {
		t.Fatal("mentioned message must be processed")
	}
	if !*gotMentioned {
		t.Error("WasMentioned = false, want true on the envelope")
	}
}

func TestHandleUpdate_DMAlwaysMentioned(t *testing.T) {
	rc := newRelayCapture(t)
	var gotMentioned bool
	deps := testDeps(t, ProcessorFunc(func(_ context.Context, msg *message.InboundMessage, _ DeliverFunc) error {
		gotMentioned = msg.WasMentioned
		return nil
	}))
	deps.client = rc.srv.Client()

	acc := pipelineAccount(t, Settings{OutboundURL: rc.srv.URL, BotName: "mybot", DMPolicy: "open"}, deps)
	acc.HandleUpdate(context.Background(), dmUpdate(42, "hello"))

	if !gotMentioned {
		t.Error("direct messages always address the bot")
	}
}

func TestHandleUpdate_ProcessorErrorRecorded(t *testing.T) {
	rc := newRelayCapture(t)
	deps := testDeps(t, ProcessorFunc(func(context.Context, *message.InboundMessage, DeliverFunc) error {
		return context.DeadlineExceeded
	}))
	deps.client = rc.srv.Client()

	acc := pipelineAccount(t, Settings{OutboundURL: rc.srv.URL, BotName: "mybot", DMPolicy: "open"}, deps)
	acc.HandleUpdate(context.Background(), dmUpdate(42, "hello"))

	snap := deps.status.Snapshot()
	if snap[0].LastError == "" {
		t.Error("processor failure must surface in status")
	}
}
