package rulestore

import (
	"context"
	"sync"
	"time"

	"sentinel-antispam/internal/rules"

	"golang.org/x/sync/singleflight"
)

type Backend interface {
	LoadRules(ctx context.Context, guildID string) (rules.RuleConfig, bool, error)
	SaveRules(ctx context.Context, guildID string, cfg rules.RuleConfig) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Options struct {
	TTL             time.Duration
	EnableByDefault bool
	Defaults        rules.RuleConfig
}

type entry struct {
	cfg     rules.RuleConfig
	found   bool
	expires time.Time
}

// Store caches guild rule documents. Concurrent misses for one guild share a
// single backend read.
type Store struct {
	backend Backend
	opts    Options
	clock   Clock
	group   singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

func New(backend Backend, opts Options) *Store {
	if opts.Defaults.EscalationLadder == nil {
		opts.Defaults = rules.Default()
	}
	return &Store{
		backend: backend,
		opts:    opts,
		clock:   realClock{},
		entries: make(map[string]entry),
	}
}

func (s *Store) WithClock(clock Clock) {
	s.clock = clock
}

// Load returns a private copy of the guild's rules. ok is false when the guild
// has no stored document and enable_by_default is off.
func (s *Store) Load(ctx context.Context, guildID string) (rules.RuleConfig, bool, error) {
	if cached, hit := s.cached(guildID); hit {
		return s.materialize(cached)
	}

	value, err, _ := s.group.Do(guildID, func() (interface{}, error) {
		cfg, found, err := s.backend.LoadRules(ctx, guildID)
		if err != nil {
			return entry{}, err
		}
		fresh := entry{cfg: cfg, found: found, expires: s.clock.Now().Add(s.opts.TTL)}
		if s.opts.TTL > 0 {
			s.mu.Lock()
			s.entries[guildID] = fresh
			s.mu.Unlock()
		}
		return fresh, nil
	})
	if err != nil {
		return rules.RuleConfig{}, false, err
	}
	return s.materialize(value.(entry))
}

// Stored reports the guild's persisted document without applying
// enable_by_default, for admin commands that edit it.
func (s *Store) Stored(ctx context.Context, guildID string) (rules.RuleConfig, bool, error) {
	cfg, found, err := s.backend.LoadRules(ctx, guildID)
	if err != nil || !found {
		return rules.RuleConfig{}, found, err
	}
	return cfg.Clone(), true, nil
}

func (s *Store) Save(ctx context.Context, guildID string, cfg rules.RuleConfig) error {
	if err := s.backend.SaveRules(ctx, guildID, cfg); err != nil {
		return err
	}
	s.Invalidate(guildID)
	return nil
}

func (s *Store) Invalidate(guildID string) {
	s.mu.Lock()
	delete(s.entries, guildID)
	s.mu.Unlock()
	s.group.Forget(guildID)
}

func (s *Store) cached(guildID string) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.entries[guildID]
	if !ok || !s.clock.Now().Before(cached.expires) {
		return entry{}, false
	}
	return cached, true
}

func (s *Store) materialize(e entry) (rules.RuleConfig, bool, error) {
	if e.found {
		return e.cfg.Clone(), true, nil
	}
	if s.opts.EnableByDefault {
		cfg := s.opts.Defaults.Clone()
		cfg.Enabled = true
		return cfg, true, nil
	}
	return rules.RuleConfig{}, false, nil
}
