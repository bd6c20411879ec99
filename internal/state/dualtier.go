package state

import (
	"context"
	"log/slog"
)

// DualTierStore fronts the remote Redis tier with the in-process fallback tier.
//
// Every operation tries the remote tier first. On remote failure the operation
// is served from (and recorded in) the fallback tier and the error is logged and
// swallowed: remote-tier errors never propagate to the orchestration layer.
// After every successful remote operation the conversation's keys are repaired
// into the fallback tier (read-through repair, not write-back), so the fallback
// is warm the moment an outage begins. Writes made during an outage stay in the
// fallback tier for the rest of the process lifetime and must be reconciled
// out-of-band.
type DualTierStore struct {
	remote   Store
	fallback *FallbackStore
}

// NewDualTierStore wires the remote tier to its in-process fallback.
func NewDualTierStore(remote Store, fallback *FallbackStore) *DualTierStore {
	slog.Debug("DualTierStore.NewDualTierStore: creating dual-tier store")
	return &DualTierStore{remote: remote, fallback: fallback}
}

// Get retrieves a value, preferring the remote tier. A remote miss still
// consults the fallback tier: a value written there during an outage must stay
// visible until it is reconciled.
func (s *DualTierStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, found, err := s.remote.Get(ctx, key)
	if err != nil {
		slog.Error("DualTierStore Get remote tier failed, serving fallback", "error", err, "key", key)
		return s.fallback.Get(ctx, key)
	}
	s.repair(ctx, key)
	if found {
		return val, true, nil
	}
	return s.fallback.Get(ctx, key)
}

// Set stores a value in both tiers. The fallback write keeps the value visible
// within this process even when the remote write failed.
func (s *DualTierStore) Set(ctx context.Context, key, value string) error {
	if err := s.remote.Set(ctx, key, value); err != nil {
		slog.Error("DualTierStore Set remote tier failed, fallback retains write", "error", err, "key", key)
	} else {
		s.repair(ctx, key)
	}
	return s.fallback.Set(ctx, key, value)
}

// Delete removes a key from both tiers.
func (s *DualTierStore) Delete(ctx context.Context, key string) error {
	if err := s.remote.Delete(ctx, key); err != nil {
		slog.Error("DualTierStore Delete remote tier failed", "error", err, "key", key)
	}
	return s.fallback.Delete(ctx, key)
}

// AddToSet adds a member to a set-valued key in both tiers.
func (s *DualTierStore) AddToSet(ctx context.Context, key, member string) error {
	if err := s.remote.AddToSet(ctx, key, member); err != nil {
		slog.Error("DualTierStore AddToSet remote tier failed, fallback retains member", "error", err, "key", key)
	} else {
		s.repair(ctx, key)
	}
	return s.fallback.AddToSet(ctx, key, member)
}

// IsMember tests set membership. A remote "no" is double-checked against the
// fallback tier so members added during an outage keep counting.
func (s *DualTierStore) IsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.remote.IsMember(ctx, key, member)
	if err != nil {
		slog.Error("DualTierStore IsMember remote tier failed, serving fallback", "error", err, "key", key)
		return s.fallback.IsMember(ctx, key, member)
	}
	if ok {
		return true, nil
	}
	return s.fallback.IsMember(ctx, key, member)
}

// SetMembers returns the members of a set-valued key, preferring the remote tier.
func (s *DualTierStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.remote.SetMembers(ctx, key)
	if err != nil {
		slog.Error("DualTierStore SetMembers remote tier failed, serving fallback", "error", err, "key", key)
		return s.fallback.SetMembers(ctx, key)
	}
	return members, nil
}

// ClearConversation removes every key belonging to an identity from both tiers:
// the single atomic "conversation reset".
func (s *DualTierStore) ClearConversation(ctx context.Context, identity string) {
	slog.Debug("DualTierStore ClearConversation", "identity", identity)
	for _, key := range conversationKeys(identity) {
		if err := s.remote.Delete(ctx, key); err != nil {
			slog.Error("DualTierStore ClearConversation remote delete failed", "error", err, "key", key)
		}
		if err := s.fallback.Delete(ctx, key); err != nil {
			slog.Error("DualTierStore ClearConversation fallback delete failed", "error", err, "key", key)
		}
	}
}

// repair copies the conversation's remote keys into the fallback tier so the
// fallback is current when the next remote failure hits. Keys absent remotely
// are left alone in the fallback: they may be outage writes awaiting
// reconciliation. Best-effort; failures only mean the fallback stays stale.
func (s *DualTierStore) repair(ctx context.Context, key string) {
	identity, err := keyIdentity(key)
	if err != nil {
		slog.Error("DualTierStore repair skipped", "error", err)
		return
	}
	for _, k := range []string{StateKey(identity), ThreadKey(identity), RoleKey(identity), HistoryKey(identity)} {
		val, found, err := s.remote.Get(ctx, k)
		if err != nil {
			slog.Debug("DualTierStore repair read failed", "error", err, "key", k)
			return
		}
		if found {
			if err := s.fallback.Set(ctx, k, val); err != nil {
				slog.Error("DualTierStore repair fallback set failed", "error", err, "key", k)
			}
		}
	}
	members, err := s.remote.SetMembers(ctx, ProcessedKey(identity))
	if err != nil {
		slog.Debug("DualTierStore repair set read failed", "error", err, "identity", identity)
		return
	}
	if len(members) > 0 {
		s.fallback.ReplaceSet(ctx, ProcessedKey(identity), members)
	}
}
