package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/daribar/surveybot/internal/models"
	"github.com/daribar/surveybot/internal/state"
)

// loadHistory reads the ordered dialogue history for an identity. A missing or
// undecodable history degrades to an empty one: the worst case is a turn sent
// without prior context, never a failed turn.
func loadHistory(ctx context.Context, st state.Store, identity string) []models.TurnRecord {
	raw, found, err := st.Get(ctx, state.HistoryKey(identity))
	if err != nil || !found {
		return nil
	}
	var history []models.TurnRecord
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		slog.Error("Conversation loadHistory decode failed, starting fresh", "error", err, "identity", identity)
		return nil
	}
	return history
}

// appendHistory records one completed turn (user message and raw assistant
// reply) in the dialogue history.
func appendHistory(ctx context.Context, st state.Store, identity, userText, assistantReply string) {
	now := time.Now().UTC()
	history := append(loadHistory(ctx, st, identity),
		models.TurnRecord{Role: "user", Content: userText, Timestamp: now},
		models.TurnRecord{Role: "assistant", Content: assistantReply, Timestamp: now},
	)
	encoded, err := json.Marshal(history)
	if err != nil {
		slog.Error("Conversation appendHistory encode failed", "error", err, "identity", identity)
		return
	}
	if err := st.Set(ctx, state.HistoryKey(identity), string(encoded)); err != nil {
		slog.Error("Conversation appendHistory store failed", "error", err, "identity", identity)
	}
}
