// Package mcpserver exposes a push receiver controller to LLM clients as an
// MCP (Model Context Protocol) server.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	pushreceiver "github.com/slush-dev/push-receiver"
)

const (
	statusURI        = "push-receiver://status"
	notificationsURI = "push-receiver://notifications"
)

// maxRecent bounds the notifications kept for the notifications resource.
const maxRecent = 100

// Controller is the part of pushreceiver.Controller the tools drive.
type Controller interface {
	Start(ctx context.Context, senderID string)
	Retry(ctx context.Context) bool
	IsRegistered() bool
	Status() pushreceiver.Status
}

// Server wraps an MCP server and doubles as the controller's
// pushreceiver.Sink. Events update its resources and are announced to
// subscribed clients.
type Server struct {
	ctx    context.Context
	server *mcp.Server
	logger *slog.Logger

	mu      sync.RWMutex
	ctrl    Controller
	token   string
	lastErr string
	seq     uint64
	errSeq  uint64
	recent  []pushreceiver.Notification
}

var _ pushreceiver.Sink = (*Server)(nil)

// New creates the MCP server. It stays alive as a sink until ctx is done.
func New(ctx context.Context, version string, logger *slog.Logger) *Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "push-receiver",
		Version: version,
	}, &mcp.ServerOptions{
		SubscribeHandler:   func(context.Context, *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(context.Context, *mcp.UnsubscribeRequest) error { return nil },
	})

	p := &Server{
		ctx:    ctx,
		server: s,
		logger: logger,
	}
	p.registerResources()
	p.registerTools()
	return p
}

// Bind sets the controller that tool calls are routed to.
func (p *Server) Bind(ctrl Controller) {
	p.mu.Lock()
	p.ctrl = ctrl
	p.mu.Unlock()
}

func (p *Server) controller() (Controller, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ctrl == nil {
		return nil, fmt.Errorf("notification service not ready")
	}
	return p.ctrl, nil
}

// Run serves MCP on stdio and blocks until the client disconnects or ctx is done.
func (p *Server) Run(ctx context.Context) error {
	return p.server.Run(ctx, &mcp.StdioTransport{})
}

// RunWithTransport connects the server to a custom transport (for testing).
func (p *Server) RunWithTransport(ctx context.Context, t mcp.Transport) error {
	_, err := p.server.Connect(ctx, t, nil)
	return err
}

// Send records ev and announces the resource it changed.
func (p *Server) Send(ev pushreceiver.Event) {
	p.mu.Lock()
	p.seq++
	uri := statusURI
	meta := mcp.Meta{"event": ev.Name()}
	switch e := ev.(type) {
	case pushreceiver.TokenUpdated:
		p.token = e.Token
	case pushreceiver.ServiceStarted:
		p.token = e.Token
		p.lastErr = ""
	case pushreceiver.ServiceError:
		p.lastErr = e.Message
		p.errSeq = p.seq
	case pushreceiver.NotificationReceived:
		uri = notificationsURI
		p.recent = append(p.recent, e.Notification)
		if len(p.recent) > maxRecent {
			p.recent = p.recent[len(p.recent)-maxRecent:]
		}
		if data, err := json.Marshal(e.Notification); err == nil {
			meta["notification"] = json.RawMessage(data)
		}
	}
	p.mu.Unlock()

	p.logger.Debug("Publishing event", "event", ev.Name(), "uri", uri)
	p.server.ResourceUpdated(p.ctx, &mcp.ResourceUpdatedNotificationParams{URI: uri, Meta: meta})
}

// Alive reports whether the server is still running.
func (p *Server) Alive() bool {
	return p.ctx.Err() == nil
}

// eventSeq returns the number of events seen so far.
func (p *Server) eventSeq() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}

// errorSince returns the last ServiceError message if one arrived after seq.
func (p *Server) errorSince(seq uint64) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.errSeq > seq {
		return p.lastErr, true
	}
	return "", false
}

// jsonResult marshals v to JSON and returns it as a text CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult returns a CallToolResult with IsError=true.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
