package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultSessionTTL bounds how long an abandoned session survives in redis.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultKeyPrefix namespaces session keys.
	DefaultKeyPrefix = "citabot:session:"
)

// RedisOpts configures a RedisStore.
type RedisOpts struct {
	TTL       time.Duration
	KeyPrefix string
}

// RedisOption mutates RedisOpts.
type RedisOption func(*RedisOpts)

// WithTTL sets the expiry of stored sessions.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *RedisOpts) { o.TTL = ttl }
}

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *RedisOpts) { o.KeyPrefix = prefix }
}

// RedisStore keeps sessions as JSON documents in redis so a restart does
// not drop users in the middle of a booking.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps client. It panics on a nil client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	cfg := RedisOpts{TTL: DefaultSessionTTL, KeyPrefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore{client: client, ttl: cfg.TTL, prefix: cfg.KeyPrefix}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server.
func NewRedisStoreFromURL(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

func (r *RedisStore) key(userID string) string {
	return r.prefix + userID
}

func (r *RedisStore) Load(ctx context.Context, userID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", userID, err)
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session for %s: %w", userID, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.Session) error {
	if s == nil || s.UserID == "" {
		return ErrInvalidSession
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to persist session for %s: %w", s.UserID, err)
	}
	slog.Debug("RedisStore Save", "user", s.UserID, "flow", s.Flow, "step", s.Step)
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]*models.Session, error) {
	var out []*models.Session
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		userID := iter.Val()[len(r.prefix):]
		s, err := r.Load(ctx, userID)
		if err != nil {
			slog.Warn("RedisStore List skipping unreadable session", "key", iter.Val(), "error", err)
			continue
		}
		if s != nil {
			out = append(out, s)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return out, nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ping checks the redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
