package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (p *Server) registerTools() {
	p.server.AddTool(startTool(), p.handleStart)
	p.server.AddTool(retryTool(), p.handleRetry)
	p.server.AddTool(isRegisteredTool(), p.handleIsRegistered)
}

func startTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "start_notification_service",
		Description: "Register for FCM push notifications (or reuse cached credentials) and start listening. Only the first call does any work; later calls return the current token. Notifications arrive as updates of push-receiver://notifications.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"sender_id": {"type": "string", "description": "FCM sender ID to register for"}
			},
			"required": ["sender_id"]
		}`),
	}
}

func (p *Server) handleStart(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctrl, err := p.controller()
	if err != nil {
		return errorResult(err.Error()), nil
	}

	var args struct {
		SenderID string `json:"sender_id"`
	}
	if req.Params.Arguments != nil {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}
	if args.SenderID == "" {
		return errorResult("sender_id is required"), nil
	}

	seq := p.eventSeq()
	ctrl.Start(ctx, args.SenderID)
	if msg, failed := p.errorSince(seq); failed {
		return errorResult(msg), nil
	}

	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()
	return jsonResult(map[string]any{
		"token":      token,
		"registered": ctrl.IsRegistered(),
	})
}

func retryTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "retry_register",
		Description: "Retry registration after a failed start. Ignored once registered or while an attempt is running.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (p *Server) handleRetry(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctrl, err := p.controller()
	if err != nil {
		return errorResult(err.Error()), nil
	}

	seq := p.eventSeq()
	if !ctrl.Retry(ctx) {
		return jsonResult(map[string]any{
			"retried":    false,
			"registered": ctrl.IsRegistered(),
		})
	}
	if msg, failed := p.errorSince(seq); failed {
		return errorResult(msg), nil
	}
	return jsonResult(map[string]any{
		"retried":    true,
		"registered": ctrl.IsRegistered(),
	})
}

func isRegisteredTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "is_registered",
		Description: "Report whether this process has completed a registration.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (p *Server) handleIsRegistered(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctrl, err := p.controller()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{"registered": ctrl.IsRegistered()})
}
