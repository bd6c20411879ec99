package state

import (
	"context"
	"log/slog"
)

// DedupGuard answers "was this message already handled?" and records handling,
// per conversation. It provides idempotent effect, not idempotent transport:
// the wire may redeliver, the guard makes the second delivery a no-op.
type DedupGuard struct {
	store Store
}

// NewDedupGuard creates a guard backed by the given store.
func NewDedupGuard(st Store) *DedupGuard {
	return &DedupGuard{store: st}
}

// IsProcessed reports whether the message was already handled for this
// conversation. A message with no identifier is never considered processed, so
// it is still handled; such messages cannot be deduplicated.
func (g *DedupGuard) IsProcessed(ctx context.Context, identity, messageID string) bool {
	if messageID == "" {
		slog.Debug("DedupGuard IsProcessed: empty message id, treating as unprocessed", "identity", identity)
		return false
	}
	processed, err := g.store.IsMember(ctx, ProcessedKey(identity), messageID)
	if err != nil {
		slog.Error("DedupGuard IsProcessed membership check failed, treating as unprocessed", "error", err, "identity", identity, "messageID", messageID)
		return false
	}
	return processed
}

// MarkProcessed records the message as handled. Messages without an identifier
// cannot be marked.
func (g *DedupGuard) MarkProcessed(ctx context.Context, identity, messageID string) {
	if messageID == "" {
		slog.Debug("DedupGuard MarkProcessed: empty message id, nothing to mark", "identity", identity)
		return
	}
	if err := g.store.AddToSet(ctx, ProcessedKey(identity), messageID); err != nil {
		slog.Error("DedupGuard MarkProcessed failed", "error", err, "identity", identity, "messageID", messageID)
		return
	}
	slog.Debug("DedupGuard MarkProcessed succeeded", "identity", identity, "messageID", messageID)
}
