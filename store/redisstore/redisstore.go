// Package redisstore keeps push receiver state in Redis.
//
// Keys, under a configurable prefix:
//
//	<prefix>credentials     JSON credentials document
//	<prefix>senderId        sender ID the credentials were issued for
//	<prefix>persistentIds   list of acknowledged persistent IDs
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	pushreceiver "github.com/slush-dev/push-receiver"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "push-receiver:"

// Option configures Store.
type Option func(*Store)

// WithLogger sets a custom logger for Store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// Store is a pushreceiver.Store on top of a Redis client. Multi-key writes
// run inside MULTI/EXEC.
type Store struct {
	client redis.Cmdable
	prefix string
	logger *slog.Logger
}

var _ pushreceiver.Store = (*Store)(nil)

// New returns a Store using client.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) credentialsKey() string   { return s.prefix + "credentials" }
func (s *Store) senderIDKey() string      { return s.prefix + "senderId" }
func (s *Store) persistentIDsKey() string { return s.prefix + "persistentIds" }

// Load reads all keys in one transaction. Missing keys are empty values.
func (s *Store) Load(ctx context.Context) (pushreceiver.State, error) {
	var (
		credsCmd  *redis.StringCmd
		senderCmd *redis.StringCmd
		idsCmd    *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		credsCmd = pipe.Get(ctx, s.credentialsKey())
		senderCmd = pipe.Get(ctx, s.senderIDKey())
		idsCmd = pipe.LRange(ctx, s.persistentIDsKey(), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return pushreceiver.State{}, fmt.Errorf("redis load: %w", err)
	}

	state := pushreceiver.State{PersistentIDs: []string{}}

	raw, err := credsCmd.Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return state, fmt.Errorf("redis load credentials: %w", err)
	default:
		var creds pushreceiver.Credentials
		if err := json.Unmarshal(raw, &creds); err != nil {
			return state, fmt.Errorf("parsing credentials: %w", err)
		}
		state.Credentials = &creds
	}

	state.SenderID, err = senderCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, fmt.Errorf("redis load sender ID: %w", err)
	}

	ids, err := idsCmd.Result()
	if err != nil {
		return state, fmt.Errorf("redis load persistent IDs: %w", err)
	}
	state.PersistentIDs = append(state.PersistentIDs, ids...)
	return state, nil
}

// SaveRegistration writes credentials and sender ID in one MULTI/EXEC.
func (s *Store) SaveRegistration(ctx context.Context, creds *pushreceiver.Credentials, senderID string) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("serializing credentials: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.credentialsKey(), data, 0)
		pipe.Set(ctx, s.senderIDKey(), senderID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save registration: %w", err)
	}
	s.logger.Debug("Saved registration", "prefix", s.prefix, "sender_id", senderID)
	return nil
}

// SavePersistentIDs replaces the persistent ID list.
func (s *Store) SavePersistentIDs(ctx context.Context, ids []string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.persistentIDsKey())
		if len(ids) > 0 {
			values := make([]interface{}, len(ids))
			for i, id := range ids {
				values[i] = id
			}
			pipe.RPush(ctx, s.persistentIDsKey(), values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save persistent IDs: %w", err)
	}
	return nil
}
