// Package bus exposes a push receiver controller to remote consumers over a
// SignalR hub.
//
// Consumers invoke StartNotificationService(senderID), RetryRegister() and
// IsRegistered() on the hub. Controller events are pushed to every connected
// client under their channel names, e.g. "PUSH_RECEIVER:::TOKEN_UPDATED".
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/philippseith/signalr"

	pushreceiver "github.com/slush-dev/push-receiver"
)

// DefaultPath is where Mount serves the hub.
const DefaultPath = "/push-receiver"

// Controller is the part of pushreceiver.Controller the hub drives.
type Controller interface {
	Start(ctx context.Context, senderID string)
	Retry(ctx context.Context) bool
	IsRegistered() bool
}

// Option configures Bus.
type Option func(*Bus)

// WithLogger sets a custom logger for Bus.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithKeepAliveInterval sets the SignalR keep-alive interval.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(b *Bus) {
		b.keepAlive = d
	}
}

// Bus is a SignalR server that routes hub invocations to a Controller and
// doubles as the controller's pushreceiver.Sink.
type Bus struct {
	ctx       context.Context
	server    signalr.Server
	logger    *slog.Logger
	keepAlive time.Duration

	mu   sync.RWMutex
	ctrl Controller
}

var _ pushreceiver.Sink = (*Bus)(nil)

// New creates the SignalR server. The bus stays alive until ctx is done.
// Invocations arriving before Bind are rejected.
func New(ctx context.Context, opts ...Option) (*Bus, error) {
	b := &Bus{
		ctx:       ctx,
		logger:    slog.Default(),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}

	server, err := signalr.NewServer(ctx,
		signalr.HubFactory(func() signalr.HubInterface { return &Hub{bus: b} }),
		signalr.Logger(&slogAdapter{logger: b.logger}, true),
		signalr.KeepAliveInterval(b.keepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("creating SignalR server: %w", err)
	}
	b.server = server
	return b, nil
}

// Bind sets the controller that hub invocations are routed to.
func (b *Bus) Bind(ctrl Controller) {
	b.mu.Lock()
	b.ctrl = ctrl
	b.mu.Unlock()
}

func (b *Bus) controller() Controller {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctrl
}

// Mount serves the hub on mux under path.
func (b *Bus) Mount(mux *http.ServeMux, path string) {
	b.server.MapHTTP(signalr.WithHTTPServeMux(mux), path)
	b.logger.Debug("SignalR hub mounted", "path", path)
}

// Send pushes ev to all connected clients.
func (b *Bus) Send(ev pushreceiver.Event) {
	b.logger.Debug("Broadcasting event", "event", ev.Name())
	b.server.HubClients().All().Send(ev.Name(), ev.Payload())
}

// Alive reports whether the server is still running.
func (b *Bus) Alive() bool {
	return b.ctx.Err() == nil
}

// Hub is the SignalR hub. A new instance serves every invocation.
type Hub struct {
	signalr.Hub
	bus *Bus
}

// OnConnected logs new connections.
func (h *Hub) OnConnected(connectionID string) {
	h.bus.logger.Debug("Bus client connected", "connection_id", connectionID)
}

// OnDisconnected logs dropped connections.
func (h *Hub) OnDisconnected(connectionID string) {
	h.bus.logger.Debug("Bus client disconnected", "connection_id", connectionID)
}

// StartNotificationService starts the controller for senderID. It returns
// immediately; the outcome is reported through events.
func (h *Hub) StartNotificationService(senderID string) {
	ctrl := h.bus.controller()
	if ctrl == nil {
		h.bus.logger.Warn("Start requested before controller was bound", "sender_id", senderID)
		return
	}
	h.bus.logger.Info("Start requested", "sender_id", senderID)
	go ctrl.Start(h.bus.ctx, senderID)
}

// RetryRegister asks the controller to retry a failed registration. It
// reports whether a retry was started.
func (h *Hub) RetryRegister() bool {
	ctrl := h.bus.controller()
	if ctrl == nil {
		return false
	}
	return ctrl.Retry(h.bus.ctx)
}

// IsRegistered reports whether the controller registered in this process.
func (h *Hub) IsRegistered() bool {
	ctrl := h.bus.controller()
	if ctrl == nil {
		return false
	}
	return ctrl.IsRegistered()
}

// slogAdapter adapts slog.Logger to the SignalR library's go-kit/log interface.
// The library emits flat key-value pairs: "level", "debug", "ts", "...", "state", 1
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Log(keyVals ...interface{}) error {
	if len(keyVals) == 0 {
		return nil
	}
	var attrs []any
	for i := 0; i+1 < len(keyVals); i += 2 {
		key := fmt.Sprint(keyVals[i])
		if key == "level" || key == "ts" || key == "caller" {
			continue
		}
		attrs = append(attrs, key, keyVals[i+1])
	}
	a.logger.Debug("signalr", attrs...)
	return nil
}
