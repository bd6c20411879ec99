// Package state provides the conversation state store for surveybot.
//
// State lives in a remote Redis tier fronted by an in-process fallback cache.
// The fallback tier exists solely for conversation continuity during Redis
// outages, not for performance.
package state

import (
	"context"
	"fmt"
	"strings"
)

// Store is the key/value contract the conversation core depends on. Values are
// strings; set-valued keys hold string members. A missing key is reported as
// (zero, false, nil), not as an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	AddToSet(ctx context.Context, key, member string) error
	IsMember(ctx context.Context, key, member string) (bool, error)
	SetMembers(ctx context.Context, key string) ([]string, error)
}

// Logical key layout, tier-agnostic. All per-conversation state hangs off these
// five keys so a conversation reset can clear them together.
const (
	statePrefix     = "state:"
	threadPrefix    = "thread:"
	rolePrefix      = "role:"
	processedPrefix = "processed:"
	historyPrefix   = "dialogueHistory:"
)

// StateKey returns the conversation-state key for an identity.
func StateKey(identity string) string { return statePrefix + identity }

// ThreadKey returns the thread-handle key for an identity.
func ThreadKey(identity string) string { return threadPrefix + identity }

// RoleKey returns the assistant-role key for an identity.
func RoleKey(identity string) string { return rolePrefix + identity }

// ProcessedKey returns the processed-message-set key for an identity.
func ProcessedKey(identity string) string { return processedPrefix + identity }

// HistoryKey returns the dialogue-history key for an identity.
func HistoryKey(identity string) string { return historyPrefix + identity }

// conversationKeys lists every key belonging to one identity, in the order they
// are cleared and repaired.
func conversationKeys(identity string) []string {
	return []string{
		StateKey(identity),
		ThreadKey(identity),
		RoleKey(identity),
		ProcessedKey(identity),
		HistoryKey(identity),
	}
}

// keyIdentity extracts the conversation identity from a logical key.
func keyIdentity(key string) (string, error) {
	_, identity, found := strings.Cut(key, ":")
	if !found || identity == "" {
		return "", fmt.Errorf("malformed state key %q", key)
	}
	return identity, nil
}
