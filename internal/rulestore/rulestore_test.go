package rulestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentinel-antispam/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu    sync.Mutex
	docs  map[string]rules.RuleConfig
	loads atomic.Int32
	gate  chan struct{}
	err   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{docs: make(map[string]rules.RuleConfig)}
}

func (b *fakeBackend) LoadRules(_ context.Context, guildID string) (rules.RuleConfig, bool, error) {
	b.loads.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	if b.err != nil {
		return rules.RuleConfig{}, false, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cfg, ok := b.docs[guildID]
	return cfg, ok, nil
}

func (b *fakeBackend) SaveRules(_ context.Context, guildID string, cfg rules.RuleConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[guildID] = cfg.Clone()
	return nil
}

func TestLoadAbsentIsDisabled(t *testing.T) {
	store := New(newFakeBackend(), Options{TTL: time.Minute})

	_, ok, err := store.Load(context.Background(), "g1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadAbsentWithEnableByDefault(t *testing.T) {
	defaults := rules.Default()
	defaults.Enabled = false
	defaults.Heuristics.Rate.MaxMessages = 7
	store := New(newFakeBackend(), Options{TTL: time.Minute, EnableByDefault: true, Defaults: defaults})

	cfg, ok, err := store.Load(context.Background(), "g1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cfg.Enabled)
	require.Equal(t, 7, cfg.Heuristics.Rate.MaxMessages)
}

func TestLoadCachesUntilTTL(t *testing.T) {
	backend := newFakeBackend()
	backend.docs["g1"] = rules.Default()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := New(backend, Options{TTL: 30 * time.Second})
	store.WithClock(clock)

	for i := 0; i < 3; i++ {
		_, ok, err := store.Load(context.Background(), "g1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.EqualValues(t, 1, backend.loads.Load())

	clock.Advance(31 * time.Second)
	_, _, err := store.Load(context.Background(), "g1")
	require.NoError(t, err)
	require.EqualValues(t, 2, backend.loads.Load())
}

func TestLoadReturnsIndependentCopies(t *testing.T) {
	backend := newFakeBackend()
	backend.docs["g1"] = rules.Default()
	store := New(backend, Options{TTL: time.Minute})

	first, _, err := store.Load(context.Background(), "g1")
	require.NoError(t, err)
	first.WhitelistedUsers.Add("u1")
	first.EscalationLadder[0] = rules.ActionBan

	second, _, err := store.Load(context.Background(), "g1")
	require.NoError(t, err)
	require.False(t, second.IsWhitelisted("u1"))
	require.Equal(t, rules.ActionWarn, second.EscalationLadder[0])
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	backend := newFakeBackend()
	backend.docs["g1"] = rules.Default()
	backend.gate = make(chan struct{})
	store := New(backend, Options{TTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Load(context.Background(), "g1")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	require.EqualValues(t, 1, backend.loads.Load())
}

func TestSaveInvalidatesCache(t *testing.T) {
	backend := newFakeBackend()
	backend.docs["g1"] = rules.Default()
	store := New(backend, Options{TTL: time.Hour})

	cfg, _, err := store.Load(context.Background(), "g1")
	require.NoError(t, err)
	require.True(t, cfg.Enabled)

	cfg.Enabled = false
	require.NoError(t, store.Save(context.Background(), "g1", cfg))

	cfg, ok, err := store.Load(context.Background(), "g1")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, cfg.Enabled)
}

func TestLoadPropagatesBackendError(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errors.New("db down")
	store := New(backend, Options{TTL: time.Minute, EnableByDefault: true})

	_, ok, err := store.Load(context.Background(), "g1")
	require.Error(t, err)
	require.False(t, ok)
}
