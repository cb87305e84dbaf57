// Package fcm registers a Chrome-style web push receiver with GCM/FCM and
// listens for its notifications over MCS (Mobile Connection Server).
//
// Registration is a device checkin followed by a register3 call for the
// sender ID. Listening logs in to MCS with the stored device credentials and
// the persistent IDs already received, so the server does not redeliver them.
//
// Usage:
//
//	t := fcm.NewTransport(fcm.WithLogger(logger))
//	creds, err := t.Register(ctx, senderID)
//	session, err := t.Listen(ctx, creds, persistentIDs, func(n pushreceiver.Notification) { ... })
//	defer session.Close()
//
// Most programs use Transport through pushreceiver.Controller.
package fcm
