package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/patrickmn/go-cache"
)

// FallbackStore is the in-process tier. It holds whatever the read-through
// repair copied from Redis plus any writes made while Redis was down, and is
// never the source of truth for other processes.
type FallbackStore struct {
	cache *cache.Cache
	// mu serializes read-modify-write of set-valued entries; go-cache is only
	// atomic per operation, not per entry mutation.
	mu sync.Mutex
}

// NewFallbackStore creates the in-process fallback tier. Entries never expire:
// conversation state must outlive an outage of unknown length and is cleared
// explicitly on conversation reset.
func NewFallbackStore() *FallbackStore {
	slog.Debug("FallbackStore.NewFallbackStore: creating in-process fallback tier")
	return &FallbackStore{cache: cache.New(cache.NoExpiration, 0)}
}

// Get retrieves a value from the fallback tier.
func (s *FallbackStore) Get(ctx context.Context, key string) (string, bool, error) {
	raw, found := s.cache.Get(key)
	if !found {
		return "", false, nil
	}
	val, ok := raw.(string)
	if !ok {
		return "", false, nil
	}
	return val, true, nil
}

// Set stores a value in the fallback tier.
func (s *FallbackStore) Set(ctx context.Context, key, value string) error {
	s.cache.Set(key, value, cache.NoExpiration)
	return nil
}

// Delete removes a key from the fallback tier.
func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// AddToSet adds a member to a set-valued key in the fallback tier.
func (s *FallbackStore) AddToSet(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.members(key)
	members[member] = struct{}{}
	s.cache.Set(key, members, cache.NoExpiration)
	return nil
}

// IsMember tests set membership in the fallback tier.
func (s *FallbackStore) IsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members(key)[member]
	return ok, nil
}

// SetMembers returns all members of a set-valued key in the fallback tier.
func (s *FallbackStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.members(key)
	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out, nil
}

// ReplaceSet overwrites a set-valued key with the given members, used by the
// read-through repair to mirror the remote tier.
func (s *FallbackStore) ReplaceSet(ctx context.Context, key string, members []string) {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(key, set, cache.NoExpiration)
}

// members returns the set stored under key, or an empty set. Caller holds mu.
func (s *FallbackStore) members(key string) map[string]struct{} {
	raw, found := s.cache.Get(key)
	if !found {
		return make(map[string]struct{})
	}
	set, ok := raw.(map[string]struct{})
	if !ok {
		return make(map[string]struct{})
	}
	return set
}
