package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned for a missing or expired session.
var ErrNoSession = errors.New("session: not found")

// Session is the server-side state bound to a browser cookie.
type Session struct {
	UserID    int64     `json:"user_id"`
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists sessions by opaque id.
type Store interface {
	Create(ctx context.Context, s Session) (string, error)
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps sessions in Redis with a fixed TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store on client. Sessions expire after ttl.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(id string) string {
	return "session:" + id
}

// Create stores s under a new random id.
func (r *RedisStore) Create(ctx context.Context, s Session) (string, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := r.client.Set(ctx, key(id), data, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("session: store: %w", err)
	}
	return id, nil
}

// Get loads the session stored under id.
func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrNoSession
	}
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: load: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("session: decode: %w", err)
	}
	return s, nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, key(id)).Err()
}
