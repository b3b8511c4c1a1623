package conversation

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	SystemPrompt string
	// TTL evicts histories idle for longer than this. Zero disables it.
	TTL time.Duration
	// MaxSessions caps live histories; the least recently used is evicted
	// first. Zero means unbounded.
	MaxSessions int
	// CleanupInterval is how often idle histories are swept. Defaults to
	// TTL/2 when unset.
	CleanupInterval time.Duration
}

type session struct {
	mu         sync.Mutex
	turns      History
	lastAccess atomic.Int64
}

func (s *session) touch(now time.Time) { s.lastAccess.Store(now.UnixNano()) }

// MemoryStore keeps histories in process. Each history has its own lock, so
// different users never contend with each other.
type MemoryStore struct {
	config   MemoryConfig
	sessions *lru.Cache[string, *session]
	logger   *zap.Logger
	now      func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a store and starts its idle janitor when TTL > 0.
func NewMemoryStore(cfg MemoryConfig, logger *zap.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL < 0 || cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("ttl and max sessions must not be negative")
	}

	size := cfg.MaxSessions
	if size == 0 {
		size = math.MaxInt32
	}
	s := &MemoryStore{
		config: cfg,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	cache, err := lru.New[string, *session](size)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	s.sessions = cache

	if cfg.TTL > 0 {
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = cfg.TTL / 2
		}
		go s.janitor(interval)
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *MemoryStore) session(userID string) *session {
	now := s.now()
	if sess, ok := s.sessions.Get(userID); ok {
		sess.touch(now)
		return sess
	}

	fresh := &session{turns: History{{Role: RoleSystem, Text: s.config.SystemPrompt}}}
	fresh.touch(now)
	prev, ok, evicted := s.sessions.PeekOrAdd(userID, fresh)
	if ok {
		// Lost a creation race; keep the winner and bump its recency.
		s.sessions.Get(userID)
		prev.touch(now)
		return prev
	}
	sessionsCreated.Inc()
	if evicted {
		evictionsTotal.WithLabelValues("capacity").Inc()
		s.logger.Debug("least recently used conversation evicted", zap.Int("max_sessions", s.config.MaxSessions))
	}
	return fresh
}

// GetOrCreate returns a copy of the history, creating it if absent.
func (s *MemoryStore) GetOrCreate(_ context.Context, userID string) (History, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.turns.Clone(), nil
}

// Append adds turn under the history's own lock.
func (s *MemoryStore) Append(_ context.Context, userID string, turn Turn) error {
	if err := validateAppend(userID, turn); err != nil {
		return err
	}
	sess := s.session(userID)
	sess.mu.Lock()
	sess.turns = append(sess.turns, turn)
	sess.mu.Unlock()
	return nil
}

// Get returns a copy of the history and bumps its recency.
func (s *MemoryStore) Get(_ context.Context, userID string) (History, bool, error) {
	if userID == "" {
		return nil, false, ErrInvalidUserID
	}
	sess, ok := s.sessions.Get(userID)
	if !ok {
		return nil, false, nil
	}
	sess.touch(s.now())
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.turns.Clone(), true, nil
}

// Reset drops the history.
func (s *MemoryStore) Reset(_ context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	s.sessions.Remove(userID)
	return nil
}

// Len reports the number of live histories.
func (s *MemoryStore) Len() int { return s.sessions.Len() }

// Close stops the janitor. Histories stay readable.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

// evictIdle removes histories whose last access is older than TTL.
func (s *MemoryStore) evictIdle() int {
	cutoff := s.now().Add(-s.config.TTL).UnixNano()
	evicted := 0
	for _, userID := range s.sessions.Keys() {
		sess, ok := s.sessions.Peek(userID)
		if !ok || sess.lastAccess.Load() >= cutoff {
			continue
		}
		if s.sessions.Remove(userID) {
			evicted++
		}
	}
	if evicted > 0 {
		evictionsTotal.WithLabelValues("ttl").Add(float64(evicted))
		s.logger.Debug("idle conversations evicted", zap.Int("count", evicted))
	}
	return evicted
}

var _ Store = (*MemoryStore)(nil)
