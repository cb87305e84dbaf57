package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	pushreceiver "github.com/slush-dev/push-receiver"
)

// fakeController emits the events a real controller would to its sink.
type fakeController struct {
	sink pushreceiver.Sink

	mu         sync.Mutex
	started    bool
	registered bool
	senderID   string
	startErr   string
	retries    int
}

func (f *fakeController) Start(ctx context.Context, senderID string) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		f.sink.Send(pushreceiver.ServiceStarted{Token: "tok-" + senderID})
		return
	}
	f.started = true
	f.senderID = senderID
	startErr := f.startErr
	f.mu.Unlock()

	if startErr != "" {
		f.sink.Send(pushreceiver.ServiceError{Message: startErr})
		return
	}
	f.mu.Lock()
	f.registered = true
	f.mu.Unlock()
	f.sink.Send(pushreceiver.TokenUpdated{Token: "tok-" + senderID})
	f.sink.Send(pushreceiver.ServiceStarted{Token: "tok-" + senderID})
}

func (f *fakeController) Retry(ctx context.Context) bool {
	f.mu.Lock()
	if !f.started || f.registered {
		f.mu.Unlock()
		return false
	}
	f.retries++
	f.registered = true
	senderID := f.senderID
	f.mu.Unlock()
	f.sink.Send(pushreceiver.TokenUpdated{Token: "tok-" + senderID})
	return true
}

func (f *fakeController) IsRegistered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered
}

func (f *fakeController) Status() pushreceiver.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pushreceiver.Status{Started: f.started, Registered: f.registered, SenderID: f.senderID}
}

// testServer creates a Server bound to a fake controller and connects an MCP
// client to it over in-memory transports.
func testServer(t *testing.T) (*mcp.ClientSession, *Server, *fakeController) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := New(ctx, "test", logger)
	ctrl := &fakeController{sink: p}
	p.Bind(ctrl)

	t1, t2 := mcp.NewInMemoryTransports()
	if err := p.RunWithTransport(ctx, t1); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0"}, nil)
	cs, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs, p, ctrl
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, map[string]any) {
	t.Helper()
	result, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	text := result.Content[0].(*mcp.TextContent).Text
	if result.IsError {
		return result, map[string]any{"error": text}
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		t.Fatalf("unmarshal %s result %q: %v", name, text, err)
	}
	return result, data
}

func readResource(t *testing.T, cs *mcp.ClientSession, uri string, v any) {
	t.Helper()
	result, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		t.Fatalf("read %s: %v", uri, err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(result.Contents))
	}
	if err := json.Unmarshal([]byte(result.Contents[0].Text), v); err != nil {
		t.Fatalf("unmarshal %s: %v", uri, err)
	}
}

func TestToolsRegistered(t *testing.T) {
	cs, _, _ := testServer(t)

	expected := map[string]bool{
		"start_notification_service": false,
		"retry_register":             false,
		"is_registered":              false,
	}
	for tool, err := range cs.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("listing tools: %v", err)
		}
		if _, ok := expected[tool.Name]; ok {
			expected[tool.Name] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestResourcesRegistered(t *testing.T) {
	cs, _, _ := testServer(t)

	expected := map[string]bool{statusURI: false, notificationsURI: false}
	for res, err := range cs.Resources(context.Background(), nil) {
		if err != nil {
			t.Fatalf("listing resources: %v", err)
		}
		if _, ok := expected[res.URI]; ok {
			expected[res.URI] = true
		}
	}
	for uri, found := range expected {
		if !found {
			t.Errorf("resource %q not registered", uri)
		}
	}
}

func TestStartTool(t *testing.T) {
	cs, _, ctrl := testServer(t)

	result, data := callTool(t, cs, "start_notification_service", map[string]any{"sender_id": "123"})
	if result.IsError {
		t.Fatalf("unexpected error: %v", data["error"])
	}
	if data["token"] != "tok-123" || data["registered"] != true {
		t.Fatalf("unexpected result %v", data)
	}
	if !ctrl.IsRegistered() {
		t.Fatalf("controller was not started")
	}

	var status map[string]any
	readResource(t, cs, statusURI, &status)
	if status["started"] != true || status["token"] != "tok-123" || status["senderId"] != "123" {
		t.Fatalf("unexpected status %v", status)
	}
}

func TestStartTool_MissingSenderID(t *testing.T) {
	cs, _, ctrl := testServer(t)

	result, _ := callTool(t, cs, "start_notification_service", map[string]any{})
	if !result.IsError {
		t.Fatalf("expected IsError=true without sender_id")
	}
	if ctrl.Status().Started {
		t.Fatalf("controller should not be started")
	}
}

func TestStartTool_ReportsServiceError(t *testing.T) {
	cs, _, ctrl := testServer(t)
	ctrl.startErr = "register: checkin refused"

	result, data := callTool(t, cs, "start_notification_service", map[string]any{"sender_id": "123"})
	if !result.IsError || data["error"] != "register: checkin refused" {
		t.Fatalf("expected the service error, got %v", data)
	}

	var status map[string]any
	readResource(t, cs, statusURI, &status)
	if status["lastError"] != "register: checkin refused" {
		t.Fatalf("unexpected status %v", status)
	}
}

func TestRetryAndIsRegistered(t *testing.T) {
	cs, _, ctrl := testServer(t)

	_, data := callTool(t, cs, "retry_register", nil)
	if data["retried"] != false {
		t.Fatalf("retry before start should be ignored, got %v", data)
	}

	ctrl.startErr = "register: timeout"
	callTool(t, cs, "start_notification_service", map[string]any{"sender_id": "123"})
	_, data = callTool(t, cs, "is_registered", nil)
	if data["registered"] != false {
		t.Fatalf("expected registered=false, got %v", data)
	}

	_, data = callTool(t, cs, "retry_register", nil)
	if data["retried"] != true || data["registered"] != true {
		t.Fatalf("unexpected retry result %v", data)
	}
	_, data = callTool(t, cs, "is_registered", nil)
	if data["registered"] != true {
		t.Fatalf("expected registered=true, got %v", data)
	}
}

func TestToolsBeforeBind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(ctx, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))

	t1, t2 := mcp.NewInMemoryTransports()
	if err := p.RunWithTransport(ctx, t1); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0"}, nil).Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	result, _ := callTool(t, cs, "is_registered", nil)
	if !result.IsError {
		t.Fatalf("expected IsError=true before Bind")
	}
}

func TestNotificationsResource(t *testing.T) {
	cs, p, _ := testServer(t)

	var got []pushreceiver.Notification
	readResource(t, cs, notificationsURI, &got)
	if len(got) != 0 {
		t.Fatalf("expected no notifications, got %v", got)
	}

	for i := 0; i < maxRecent+5; i++ {
		p.Send(pushreceiver.NotificationReceived{Notification: pushreceiver.Notification{
			PersistentID: "p" + string(rune('a'+i%26)),
			Data:         map[string]string{"i": string(rune('0' + i%10))},
		}})
	}

	readResource(t, cs, notificationsURI, &got)
	if len(got) != maxRecent {
		t.Fatalf("expected %d notifications, got %d", maxRecent, len(got))
	}
	// The oldest five were dropped.
	if got[0].PersistentID != "pf" {
		t.Fatalf("unexpected oldest notification %+v", got[0])
	}
}

func TestAlive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !p.Alive() {
		t.Fatalf("expected sink to be alive")
	}
	cancel()
	if p.Alive() {
		t.Fatalf("expected sink to be gone after cancel")
	}
}
