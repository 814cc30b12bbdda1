package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateTTL bounds how long an OAuth round trip may take.
const StateTTL = 10 * time.Minute

// StateStore keeps the PKCE verifier between the authorize redirect and the
// callback.  Take is single use.
type StateStore interface {
	Save(ctx context.Context, state, verifier string) error
	Take(ctx context.Context, state string) (string, error)
}

// RedisStateStore shares OAuth state across server replicas.
type RedisStateStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, prefix: "chama:oauth:state:"}
}

func (s *RedisStateStore) Save(ctx context.Context, state, verifier string) error {
	return s.rdb.Set(ctx, s.prefix+state, verifier, StateTTL).Err()
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (string, error) {
	v, err := s.rdb.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	return v, err
}

// MemoryStateStore is used when Redis is unavailable.  It only works with a
// single server process.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	verifier string
	expires  time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: map[string]memEntry{}, now: time.Now}
}

func (s *MemoryStateStore) Save(_ context.Context, state, verifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = memEntry{verifier: verifier, expires: now.Add(StateTTL)}
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[state]
	delete(s.entries, state)
	if !ok || s.now().After(e.expires) {
		return "", ErrStateNotFound
	}
	return e.verifier, nil
}
