package pushreceiver

import (
	"encoding/json"
	"fmt"
)

// Credentials is the result of a push registration. The controller only
// reads FCM.Token; everything under GCM belongs to the Transport that
// produced it and is persisted verbatim.
type Credentials struct {
	GCM json.RawMessage `json:"gcm,omitempty"`
	FCM FCMCredentials  `json:"fcm"`
}

// FCMCredentials holds the token handed out to the consumer.
type FCMCredentials struct {
	Token string `json:"token"`
}

// Token returns the FCM token, or "" for nil credentials.
func (c *Credentials) Token() string {
	if c == nil {
		return ""
	}
	return c.FCM.Token
}

// Validate reports malformed credentials.
func (c *Credentials) Validate() error {
	if c == nil {
		return fmt.Errorf("credentials missing")
	}
	if c.FCM.Token == "" {
		return fmt.Errorf("credentials have no fcm token")
	}
	return nil
}

// Clone returns a deep copy.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	cpy := *c
	if c.GCM != nil {
		cpy.GCM = make(json.RawMessage, len(c.GCM))
		copy(cpy.GCM, c.GCM)
	}
	return &cpy
}

// Notification is a single push delivered by a listen session.
type Notification struct {
	PersistentID string            `json:"persistentId"`
	From         string            `json:"from,omitempty"`
	Category     string            `json:"category,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	RawData      []byte            `json:"rawData,omitempty"`
}

// State is the durable state kept by a Store.
type State struct {
	Credentials   *Credentials `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	SenderID      string       `json:"senderId,omitempty" yaml:"senderId,omitempty"`
	PersistentIDs []string     `json:"persistentIds" yaml:"persistentIds"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{
		Credentials: s.Credentials.Clone(),
		SenderID:    s.SenderID,
	}
	out.PersistentIDs = make([]string, len(s.PersistentIDs))
	copy(out.PersistentIDs, s.PersistentIDs)
	return out
}
