// Package redis provides a core.SessionStore backed by Redis so several
// processes can share session state and produced artifact lists.
//
// Layout per session (prefix defaults to "toolmesh:session"):
//
//	<prefix>:<id>:state         HASH  key -> JSON encoded value
//	<prefix>:<id>:artifacts     LIST  artifact references in insertion order
//	<prefix>:<id>:artifact_set  SET   membership index used for de-duplication
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/redis/go-redis/v9"
)

// addArtifactScript appends a reference only when it is not yet a member,
// keeping the list free of duplicates without a read-modify-write race.
var addArtifactScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// Config describes the Redis connection and key layout.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// TTL expires idle sessions; zero keeps them forever.
	TTL time.Duration
}

// Store is a Redis backed core.SessionStore.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewStoreFromClient wraps an existing client.
func NewStoreFromClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "toolmesh:session"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) stateKey(id string) string       { return s.prefix + ":" + id + ":state" }
func (s *Store) artifactsKey(id string) string   { return s.prefix + ":" + id + ":artifacts" }
func (s *Store) artifactSetKey(id string) string { return s.prefix + ":" + id + ":artifact_set" }

// Load assembles a session snapshot from the state hash and artifact list.
func (s *Store) Load(ctx context.Context, sessionID string) (*core.Session, error) {
	var (
		stateCmd     *redis.MapStringStringCmd
		artifactsCmd *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		stateCmd = p.HGetAll(ctx, s.stateKey(sessionID))
		artifactsCmd = p.LRange(ctx, s.artifactsKey(sessionID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	sess := core.NewSession(sessionID)
	for k, raw := range stateCmd.Val() {
		v, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode state %s: %w", k, err)
		}
		sess.State[k] = v
	}
	sess.Artifacts = append(sess.Artifacts, artifactsCmd.Val()...)
	return sess, nil
}

// Get returns a decoded state value.
func (s *Store) Get(ctx context.Context, sessionID, key string) (any, bool, error) {
	raw, err := s.client.HGet(ctx, s.stateKey(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	v, err := decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

// Set JSON encodes and stores a state value.
func (s *Store) Set(ctx context.Context, sessionID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, s.stateKey(sessionID), key, data).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return s.touch(ctx, s.stateKey(sessionID))
}

// ListArtifacts returns the artifact references in insertion order.
func (s *Store) ListArtifacts(ctx context.Context, sessionID string) ([]string, error) {
	refs, err := s.client.LRange(ctx, s.artifactsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return refs, nil
}

// AddArtifact appends a reference unless already present.
func (s *Store) AddArtifact(ctx context.Context, sessionID, ref string) error {
	if ref == "" {
		return nil
	}
	keys := []string{s.artifactsKey(sessionID), s.artifactSetKey(sessionID)}
	if err := addArtifactScript.Run(ctx, s.client, keys, ref).Err(); err != nil {
		return fmt.Errorf("add artifact: %w", err)
	}
	return s.touch(ctx, keys...)
}

func (s *Store) touch(ctx context.Context, keys ...string) error {
	if s.ttl <= 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("expire: %w", err)
	}
	return nil
}

func decode(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}
