package conversation

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sales-assistant/internal/common/database"
	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/common/metrics"
	"sales-assistant/internal/models"
)

// Store persists sessions between turns. Get returns nil without error when
// the conversation has no live session.
type Store interface {
	Get(ctx context.Context, conversationID string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, conversationID string) error
}

// MemoryStore keeps sessions in process and drops them after the idle
// timeout.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	idle     time.Duration
	clock    func() time.Time
	logger   logger.Logger
}

func NewMemoryStore(idle time.Duration, log logger.Logger) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		idle:     idle,
		clock:    time.Now,
		logger:   logger.ForComponent(log, "session-store"),
	}
}

// copySession detaches the caller's copy from the stored one. Pending and
// LastResult are replaced wholesale, never edited, so sharing them is safe.
func copySession(s *models.Session) *models.Session {
	c := *s
	c.Params = s.Params.Clone()
	return &c
}

func (m *MemoryStore) Get(_ context.Context, conversationID string) (*models.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[conversationID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.IsExpired(m.clock(), m.idle) {
		m.mu.Lock()
		delete(m.sessions, conversationID)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
		m.mu.Unlock()
		return nil, nil
	}
	return copySession(s), nil
}

func (m *MemoryStore) Save(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	m.sessions[s.ConversationID] = copySession(s)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, conversationID string) error {
	m.mu.Lock()
	delete(m.sessions, conversationID)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	return nil
}

// Len is the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes expired sessions and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.IsExpired(now, m.idle) {
			delete(m.sessions, id)
			removed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return removed
}

// StartJanitor sweeps every interval until ctx is done.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.idle <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					m.logger.Debug("Expired sessions removed", map[string]interface{}{
						"removed": n,
					})
				}
			}
		}
	}()
}

const sessionKeyPrefix = "session:"

// RedisStore keeps sessions in Redis as JSON. The idle timeout is the key
// TTL and is renewed on every save.
type RedisStore struct {
	rdb  redis.Cmdable
	idle time.Duration
}

func NewRedisStore(rdb redis.Cmdable, idle time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, idle: idle}
}

func sessionKey(conversationID string) string {
	return sessionKeyPrefix + conversationID
}

func (r *RedisStore) Get(ctx context.Context, conversationID string) (*models.Session, error) {
	var s models.Session
	err := database.GetJSON(ctx, r.rdb, sessionKey(conversationID), &s)
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewSessionStoreFailedError("get", err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.Session) error {
	if err := database.SetJSON(ctx, r.rdb, sessionKey(s.ConversationID), s, r.idle); err != nil {
		return errors.NewSessionStoreFailedError("save", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := r.rdb.Del(ctx, sessionKey(conversationID)).Err(); err != nil {
		return errors.NewSessionStoreFailedError("delete", err)
	}
	return nil
}
