package pushreceiver

import (
	"context"
	"sync"
)

// Channel names shared with consumers. They match the names used by the
// Electron push receiver so existing renderer code keeps working.
const (
	StartNotificationService   = "PUSH_RECEIVER:::START_NOTIFICATION_SERVICE"
	NotificationServiceStarted = "PUSH_RECEIVER:::NOTIFICATION_SERVICE_STARTED"
	NotificationServiceError   = "PUSH_RECEIVER:::NOTIFICATION_SERVICE_ERROR"
	NotificationReceivedName   = "PUSH_RECEIVER:::NOTIFICATION_RECEIVED"
	TokenUpdatedName           = "PUSH_RECEIVER:::TOKEN_UPDATED"
)

// Event is emitted by a Controller to its Sink.
type Event interface {
	// Name is the channel name the event is published on.
	Name() string
	// Payload is the single value sent with the event.
	Payload() any
}

// ServiceStarted reports that the listen session is up (or that Start was
// called again after the first time).
type ServiceStarted struct {
	Token string
}

func (ServiceStarted) Name() string   { return NotificationServiceStarted }
func (e ServiceStarted) Payload() any { return e.Token }

// TokenUpdated reports a fresh registration.
type TokenUpdated struct {
	Token string
}

func (TokenUpdated) Name() string   { return TokenUpdatedName }
func (e TokenUpdated) Payload() any { return e.Token }

// NotificationReceived carries an inbound notification.
type NotificationReceived struct {
	Notification Notification
}

func (NotificationReceived) Name() string   { return NotificationReceivedName }
func (e NotificationReceived) Payload() any { return e.Notification }

// ServiceError reports a failed register-or-listen attempt or a listen
// session that ended abnormally.
type ServiceError struct {
	Message string
}

func (ServiceError) Name() string   { return NotificationServiceError }
func (e ServiceError) Payload() any { return e.Message }

// Sink receives controller events.
type Sink interface {
	// Send delivers ev. It may block while the consumer catches up.
	Send(ev Event)
	// Alive reports whether the consumer behind the sink still exists.
	Alive() bool
}

// ContextSink is a Sink whose blocked sends can be abandoned. The controller
// prefers SendContext so that Close releases a send waiting on a slow
// consumer.
type ContextSink interface {
	Sink
	// SendContext delivers ev unless ctx is done first. It reports whether
	// ev was delivered.
	SendContext(ctx context.Context, ev Event) bool
}

// Deliver sends ev to sink, through SendContext when sink supports it.
func Deliver(ctx context.Context, sink Sink, ev Event) bool {
	if cs, ok := sink.(ContextSink); ok {
		return cs.SendContext(ctx, ev)
	}
	sink.Send(ev)
	return true
}

// ChannelSink is a Sink backed by a buffered channel. When the buffer is full
// sends wait for the consumer. Once closed, sends are dropped and waiting
// sends return.
type ChannelSink struct {
	mu      sync.Mutex
	ch      chan Event
	done    chan struct{}
	senders sync.WaitGroup
	closed  bool
}

var _ ContextSink = (*ChannelSink)(nil)

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Event, size), done: make(chan struct{})}
}

// Events returns the receive side. It is closed by Close once no send is
// pending. Events buffered before Close can still be read.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Send implements Sink.
func (s *ChannelSink) Send(ev Event) {
	s.SendContext(context.Background(), ev)
}

// SendContext implements ContextSink.
func (s *ChannelSink) SendContext(ctx context.Context, ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.senders.Add(1)
	s.mu.Unlock()
	defer s.senders.Done()

	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Alive implements Sink.
func (s *ChannelSink) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close tears down the sink. Safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.senders.Wait()
	close(s.ch)
}

// SinkFunc adapts a function to a Sink that is always alive.
type SinkFunc func(Event)

func (f SinkFunc) Send(ev Event) { f(ev) }
func (f SinkFunc) Alive() bool   { return true }
