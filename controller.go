package pushreceiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/slush-dev/push-receiver/internal/strutil"
)

// Failure classes reported through ServiceError. Use errors.Is on errors
// returned by Controller internals or wrap your own with them.
var (
	ErrRegister = errors.New("register")
	ErrListen   = errors.New("listen")
	ErrStore    = errors.New("store")
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a custom logger for Controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMaxPersistentIDs keeps only the newest n persistent IDs in the store.
// Zero (the default) keeps every ID ever received.
func WithMaxPersistentIDs(n int) Option {
	return func(c *Controller) {
		if n < 0 {
			n = 0
		}
		c.maxPersistentIDs = n
	}
}

// Status is a snapshot of the controller's in-memory state.
type Status struct {
	Started    bool   `json:"started" yaml:"started"`
	Registered bool   `json:"registered" yaml:"registered"`
	InFlight   bool   `json:"inFlight" yaml:"inFlight"`
	SenderID   string `json:"senderId,omitempty" yaml:"senderId,omitempty"`
}

// Controller runs the registration/listen state machine for one process.
//
// Start is idempotent: only the first call registers (or reuses cached
// credentials) and opens a listen session. Retry re-runs that procedure, but
// only between a Start and the first successful registration, and never
// while an attempt is running.
type Controller struct {
	store            Store
	transport        Transport
	sink             Sink
	logger           *slog.Logger
	maxPersistentIDs int

	// ctx is the parent of every listen session; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	started    bool
	registered bool
	inFlight   bool
	closed     bool
	senderID   string
	session    Session

	// procMu serializes register-or-reuse attempts.
	procMu sync.Mutex
	// idsMu serializes persistent ID read-modify-write cycles.
	idsMu sync.Mutex
}

// NewController creates a Controller. Nothing happens until Start.
func NewController(store Store, transport Transport, sink Sink, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:     store,
		transport: transport,
		sink:      sink,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start handles a start request for senderID. The first call registers or
// reuses credentials and opens the listen session; it returns once the
// attempt finished. Later calls only re-emit ServiceStarted with the stored
// token.
func (c *Controller) Start(ctx context.Context, senderID string) {
	c.mu.Lock()
	c.senderID = senderID
	if c.started {
		c.mu.Unlock()
		c.logger.Debug("Notification service already started", "sender_id", senderID)
		c.emit(ServiceStarted{Token: c.storedToken(ctx)})
		return
	}
	c.started = true
	c.inFlight = true
	c.mu.Unlock()

	c.registerOrReuse(ctx, false)
}

// Retry re-runs register-or-reuse if the service was started but never
// completed a registration and no attempt is running. It reports whether an
// attempt was made.
func (c *Controller) Retry(ctx context.Context) bool {
	c.mu.Lock()
	senderID := c.senderID
	if senderID == "" || !c.started || c.registered || c.inFlight {
		c.mu.Unlock()
		c.logger.Debug("Retry ignored", "sender_id", senderID)
		return false
	}
	c.inFlight = true
	c.mu.Unlock()

	c.logger.Info("Retrying registration", "sender_id", senderID)
	c.registerOrReuse(ctx, true)
	return true
}

// IsRegistered reports whether a registration completed in this process.
func (c *Controller) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// Status returns a snapshot of the in-memory state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Started:    c.started,
		Registered: c.registered,
		InFlight:   c.inFlight,
		SenderID:   c.senderID,
	}
}

// Close ends the active listen session. The controller is unusable afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.session
	c.session = nil
	c.mu.Unlock()

	c.cancel()
	if s != nil {
		return s.Close()
	}
	return nil
}

func (c *Controller) registerOrReuse(ctx context.Context, retry bool) {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	logger := c.logger.With("attempt", uuid.NewString(), "retry", retry)
	if err := c.attempt(ctx, logger, retry); err != nil {
		logger.Error("Notification service error", "error", err)
		c.emit(ServiceError{Message: err.Error()})
	}
}

func (c *Controller) attempt(ctx context.Context, logger *slog.Logger, retry bool) error {
	c.mu.Lock()
	senderID := c.senderID
	c.mu.Unlock()

	state, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrStore, err)
	}

	creds := state.Credentials
	if creds == nil || state.SenderID != senderID {
		logger.Info("Registering", "saved_sender_id", state.SenderID, "sender_id", senderID)
		creds, err = c.transport.Register(ctx, senderID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRegister, err)
		}
		if err := creds.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrRegister, err)
		}
		if err := c.store.SaveRegistration(ctx, creds, senderID); err != nil {
			return fmt.Errorf("%w: save registration: %w", ErrStore, err)
		}

		c.mu.Lock()
		c.registered = true
		c.mu.Unlock()

		logger.Info("Successfully registered", "token_prefix", strutil.Truncate(creds.Token(), 20))
		c.emit(TokenUpdated{Token: creds.Token()})
	} else if err := creds.Validate(); err != nil {
		return fmt.Errorf("%w: stored %w", ErrListen, err)
	}

	session, err := c.transport.Listen(c.ctx, creds, state.PersistentIDs, c.onNotification)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListen, err)
	}
	c.replaceSession(session)
	go c.watch(session)

	logger.Info("Listening for notifications", "persistent_ids", len(state.PersistentIDs))
	if !retry {
		c.emit(ServiceStarted{Token: creds.Token()})
	}
	return nil
}

func (c *Controller) replaceSession(s Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.Close()
		return
	}
	old := c.session
	c.session = s
	c.mu.Unlock()

	if old != nil {
		c.logger.Debug("Closing previous listen session")
		old.Close()
	}
}

// watch reports a session that ends with an error while it is still the
// active one.
func (c *Controller) watch(s Session) {
	<-s.Done()

	c.mu.Lock()
	current := c.session == s
	if current {
		c.session = nil
	}
	closed := c.closed
	c.mu.Unlock()

	err := s.Err()
	if err == nil || closed || !current {
		return
	}
	c.logger.Warn("Listen session ended", "error", err)
	c.emit(ServiceError{Message: fmt.Errorf("%w: session ended: %w", ErrListen, err).Error()})
}

func (c *Controller) onNotification(n Notification) {
	if err := c.appendPersistentID(n.PersistentID); err != nil {
		c.logger.Error("Failed to save persistent ID", "persistent_id", n.PersistentID, "error", err)
	}

	if !c.sink.Alive() {
		c.logger.Debug("Consumer gone, dropping notification", "persistent_id", n.PersistentID)
		return
	}
	if !Deliver(c.ctx, c.sink, NotificationReceived{Notification: n}) {
		c.logger.Debug("Notification not delivered before shutdown", "persistent_id", n.PersistentID)
	}
}

// appendPersistentID appends id to the stored sequence, pruning the oldest
// entries when a cap is configured.
func (c *Controller) appendPersistentID(id string) error {
	c.idsMu.Lock()
	defer c.idsMu.Unlock()

	ctx := context.Background()
	state, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrStore, err)
	}
	ids := append(state.PersistentIDs, id)
	if c.maxPersistentIDs > 0 && len(ids) > c.maxPersistentIDs {
		ids = ids[len(ids)-c.maxPersistentIDs:]
	}
	if err := c.store.SavePersistentIDs(ctx, ids); err != nil {
		return fmt.Errorf("%w: save persistent ids: %w", ErrStore, err)
	}
	return nil
}

func (c *Controller) storedToken(ctx context.Context) string {
	state, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("Failed to load stored credentials", "error", err)
		return ""
	}
	return state.Credentials.Token()
}

func (c *Controller) emit(ev Event) {
	if !c.sink.Alive() {
		c.logger.Debug("Consumer gone, dropping event", "event", ev.Name())
		return
	}
	if !Deliver(c.ctx, c.sink, ev) {
		c.logger.Debug("Event not delivered before shutdown", "event", ev.Name())
	}
}
