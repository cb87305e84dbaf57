// Package pushreceiver bridges a host process and a push notification
// registration/listen service.
//
// A Controller registers the device with a sender ID (or reuses cached
// credentials), persists the resulting credentials through a Store, opens a
// listen session through a Transport and reports lifecycle events to a Sink.
//
// The fcm subpackage provides a GCM/FCM Transport speaking Google's MCS
// protocol. The store subpackages provide file and Redis backed Stores, and
// the bus subpackage exposes a Controller to remote consumers over SignalR.
//
// Usage:
//
//	sink := pushreceiver.NewChannelSink(16)
//	ctrl := pushreceiver.NewController(store, fcm.NewTransport(), sink)
//	defer ctrl.Close()
//	ctrl.Start(ctx, senderID)
//	for ev := range sink.Events() { ... }
package pushreceiver
