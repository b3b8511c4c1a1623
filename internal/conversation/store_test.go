package conversation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPrompt = "You answer FBT questions."

func newMemory(t *testing.T) Store {
	t.Helper()
	s, err := NewMemoryStore(MemoryConfig{SystemPrompt: testPrompt, MaxSessions: 100}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedis(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, RedisConfig{SystemPrompt: testPrompt, TTL: time.Hour}, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var backends = map[string]func(*testing.T) Store{
	"memory": newMemory,
	"redis":  newRedis,
}

func TestStore_GetOrCreateSeedsSystemTurnOnce(t *testing.T) {
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			h, err := s.GetOrCreate(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, h, 1)
			assert.Equal(t, Turn{Role: RoleSystem, Text: testPrompt}, h[0])

			h, err = s.GetOrCreate(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, h, 1, "second call must not add another system turn")
		})
	}
}

func TestStore_AppendCreatesAndOrders(t *testing.T) {
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			require.NoError(t, s.Append(ctx, "bob", Turn{Role: RoleUser, Text: "q1"}))
			require.NoError(t, s.Append(ctx, "bob", Turn{Role: RoleAssistant, Text: "a1"}))

			h, ok, err := s.Get(ctx, "bob")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, History{
				{Role: RoleSystem, Text: testPrompt},
				{Role: RoleUser, Text: "q1"},
				{Role: RoleAssistant, Text: "a1"},
			}, h)
		})
	}
}

func TestStore_GetDoesNotCreate(t *testing.T) {
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			_, ok, err := s.Get(context.Background(), "nobody")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_UsersAreIsolated(t *testing.T) {
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, "a", Turn{Role: RoleUser, Text: "from a"}))
			require.NoError(t, s.Append(ctx, "b", Turn{Role: RoleUser, Text: "from b"}))

			h, _, err := s.Get(ctx, "a")
			require.NoError(t, err)
			require.Len(t, h, 2)
			assert.Equal(t, "from a", h[1].Text)
		})
	}
}

func TestStore_Reset(t *testing.T) {
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, "carol", Turn{Role: RoleUser, Text: "hi"}))
			require.NoError(t, s.Reset(ctx, "carol"))

			_, ok, err := s.Get(ctx, "carol")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Reset(ctx, "carol"))

			h, err := s.GetOrCreate(ctx, "carol")
			require.NoError(t, err)
			assert.Len(t, h, 1)
		})
	}
}

func TestStore_Validation(t *testing.T) {
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			_, err := s.GetOrCreate(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidUserID)
			assert.ErrorIs(t, s.Append(ctx, "", Turn{Role: RoleUser}), ErrInvalidUserID)
			assert.ErrorIs(t, s.Append(ctx, "u", Turn{Role: RoleSystem, Text: "x"}), ErrInvalidTurn)
			assert.ErrorIs(t, s.Append(ctx, "u", Turn{Role: "tool"}), ErrInvalidTurn)
		})
	}
}

func TestStore_ReturnedHistoryIsACopy(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()
	h, err := s.GetOrCreate(ctx, "dave")
	require.NoError(t, err)
	h[0].Text = "tampered"

	h2, _, err := s.Get(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, testPrompt, h2[0].Text)
}

func TestMemoryStore_ConcurrentUsers(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%5)
			_ = s.Append(ctx, user, Turn{Role: RoleUser, Text: "q"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		h, ok, err := s.Get(ctx, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, h, 5, "one system turn plus four appends")
		assert.Equal(t, RoleSystem, h[0].Role)
	}
}

func TestStore_ConcurrentFirstTurnsKeepSystemHead(t *testing.T) {
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.Append(ctx, "alice", Turn{Role: RoleUser, Text: fmt.Sprintf("q%d", i)}))
				}(i)
			}
			wg.Wait()

			h, ok, err := s.Get(ctx, "alice")
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, h, 11)
			assert.Equal(t, Turn{Role: RoleSystem, Text: testPrompt}, h[0])
			for _, turn := range h[1:] {
				assert.Equal(t, RoleUser, turn.Role)
			}
		})
	}
}

// slowFirstScript holds back the first script call so a second writer
// creates the history and appends before the first one proceeds.
type slowFirstScript struct {
	calls atomic.Int32
	delay time.Duration
}

func (h *slowFirstScript) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *slowFirstScript) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if name := cmd.Name(); (name == "evalsha" || name == "eval") && h.calls.Add(1) == 1 {
			time.Sleep(h.delay)
		}
		return next(ctx, cmd)
	}
}

func (h *slowFirstScript) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStore_CreationRaceKeepsSystemHead(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client.AddHook(&slowFirstScript{delay: 50 * time.Millisecond})
	s := NewRedisStore(client, RedisConfig{SystemPrompt: testPrompt, TTL: time.Hour}, nil)
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, text := range []string{"first", "second"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			assert.NoError(t, s.Append(ctx, "alice", Turn{Role: RoleUser, Text: text}))
		}(text)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	h, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, h, 3)
	assert.Equal(t, RoleSystem, h[0].Role, "head turn is %q", h[0].Role)
	assert.Equal(t, "second", h[1].Text)
	assert.Equal(t, "first", h[2].Text)
}

func TestMemoryStore_IdleEviction(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{
		SystemPrompt:    testPrompt,
		TTL:             time.Minute,
		CleanupInterval: time.Hour,
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err = s.GetOrCreate(ctx, "idle")
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = s.GetOrCreate(ctx, "active")
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, s.evictIdle())

	_, ok, _ := s.Get(ctx, "idle")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "active")
	assert.True(t, ok)
}

func TestMemoryStore_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{SystemPrompt: testPrompt, MaxSessions: 2}, nil)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, _ = s.GetOrCreate(ctx, "first")
	_, _ = s.GetOrCreate(ctx, "second")
	_, _ = s.GetOrCreate(ctx, "first")
	_, _ = s.GetOrCreate(ctx, "third")

	assert.Equal(t, 2, s.Len())
	_, ok, _ := s.Get(ctx, "second")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "first")
	assert.True(t, ok)
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{TTL: time.Minute, CleanupInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, err = NewMemoryStore(MemoryConfig{TTL: -time.Second}, nil)
	assert.Error(t, err)
}

func TestRedisStore_ExpiryRefreshedOnAccess(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, RedisConfig{SystemPrompt: testPrompt, TTL: time.Minute}, nil)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "erin", Turn{Role: RoleUser, Text: "hi"}))
	assert.Equal(t, time.Minute, mr.TTL("ragd:conv:erin"))

	mr.FastForward(40 * time.Second)
	_, ok, err := s.Get(ctx, "erin")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(40 * time.Second)
	_, ok, err = s.Get(ctx, "erin")
	require.NoError(t, err)
	assert.True(t, ok, "access refreshed the TTL")

	mr.FastForward(2 * time.Minute)
	_, ok, err = s.Get(ctx, "erin")
	require.NoError(t, err)
	assert.False(t, ok)

	h, err := s.GetOrCreate(ctx, "erin")
	require.NoError(t, err)
	assert.Len(t, h, 1, "recreated history gets a fresh system turn")
}
