package pushreceiver

import "context"

// Transport performs push registration and opens listen sessions.
type Transport interface {
	// Register obtains fresh credentials for senderID.
	Register(ctx context.Context, senderID string) (*Credentials, error)

	// Listen opens a session using creds. Notifications whose persistent ID
	// is in persistentIDs are not redelivered. Listen returns once the
	// session is established; onNotification is then called for every
	// inbound notification until the session ends.
	Listen(ctx context.Context, creds *Credentials, persistentIDs []string, onNotification func(Notification)) (Session, error)
}

// Session is an established listen session.
type Session interface {
	// Done is closed when the session ends.
	Done() <-chan struct{}
	// Err returns why the session ended, or nil for a clean shutdown.
	Err() error
	// Close ends the session.
	Close() error
}
