package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	pushreceiver "github.com/slush-dev/push-receiver"
)

func (p *Server) registerResources() {
	p.server.AddResource(&mcp.Resource{
		URI:         statusURI,
		Name:        "Service Status",
		Description: "Controller state, current token and the last service error",
		MIMEType:    "application/json",
	}, p.handleStatusResource)

	p.server.AddResource(&mcp.Resource{
		URI:         notificationsURI,
		Name:        "Notifications",
		Description: fmt.Sprintf("The last %d notifications received, oldest first", maxRecent),
		MIMEType:    "application/json",
	}, p.handleNotificationsResource)
}

type statusView struct {
	pushreceiver.Status
	Token     string `json:"token,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

func (p *Server) handleStatusResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	p.mu.RLock()
	view := statusView{Token: p.token, LastError: p.lastErr}
	ctrl := p.ctrl
	p.mu.RUnlock()

	if ctrl != nil {
		view.Status = ctrl.Status()
	}
	return jsonResource(req.Params.URI, view)
}

func (p *Server) handleNotificationsResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	p.mu.RLock()
	recent := make([]pushreceiver.Notification, len(p.recent))
	copy(recent, p.recent)
	p.mu.RUnlock()

	return jsonResource(req.Params.URI, recent)
}

// jsonResource marshals v to JSON and wraps it in a ReadResourceResult.
func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
