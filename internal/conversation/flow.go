// Package conversation implements the conversation state machine: the single
// entry point the transport calls for every inbound message, the
// registration-vs-survey flow selection, and the interpretation of structured
// assistant replies.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daribar/surveybot/internal/assistant"
	"github.com/daribar/surveybot/internal/models"
	"github.com/daribar/surveybot/internal/records"
	"github.com/daribar/surveybot/internal/serializer"
	"github.com/daribar/surveybot/internal/state"
)

const (
	// openingTurn is sent to the assistant on first contact instead of the
	// user's own message; the assistant replies with its greeting and the
	// first question of the flow.
	openingTurn = "Здравствуйте"
	// repeatRequest is returned when no text could be extracted from the message.
	repeatRequest = "К сожалению, я не смог распознать ваш голос. Пожалуйста, повторите свой запрос."
	// assistantLanguage is the language the assistant personas converse in.
	assistantLanguage = "ru"
	// DefaultTurnTimeout bounds one model turn so a hung call cannot stall the
	// thread's queue forever.
	DefaultTurnTimeout = 90 * time.Second
)

// StateStore is the conversation-state contract: the dual-tier store plus the
// atomic conversation reset.
type StateStore interface {
	state.Store
	ClearConversation(ctx context.Context, identity string)
}

// Transcriber converts audio payloads to text. An empty result means nothing
// was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, audioBase64, language string) (string, error)
}

// Translator translates text between the conversation language and the
// assistant's native language.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Synthesizer renders reply text to audio, returned base64-encoded.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (string, error)
}

// Flow orchestrates one conversation turn end to end: dedup, flow selection,
// the serialized model call, reply interpretation and record persistence.
type Flow struct {
	store       StateStore
	dedup       *state.DedupGuard
	queue       *serializer.Serializer
	assistant   assistant.Client
	repo        records.Repository
	mapper      *records.Mapper
	transcriber Transcriber
	translator  Translator
	synthesizer Synthesizer
	turnTimeout time.Duration
}

// FlowOption configures optional collaborators of a Flow.
type FlowOption func(*Flow)

// WithTranscriber enables audio message handling.
func WithTranscriber(t Transcriber) FlowOption {
	return func(f *Flow) {
		f.transcriber = t
	}
}

// WithTranslator enables kk<->ru translation around the model call.
func WithTranslator(t Translator) FlowOption {
	return func(f *Flow) {
		f.translator = t
	}
}

// WithSynthesizer enables reply audio synthesis.
func WithSynthesizer(s Synthesizer) FlowOption {
	return func(f *Flow) {
		f.synthesizer = s
	}
}

// WithTurnTimeout overrides the per-turn model call timeout.
func WithTurnTimeout(d time.Duration) FlowOption {
	return func(f *Flow) {
		f.turnTimeout = d
	}
}

// NewFlow creates the conversation state machine with its required
// collaborators.
func NewFlow(store StateStore, queue *serializer.Serializer, client assistant.Client, repo records.Repository, opts ...FlowOption) *Flow {
	slog.Debug("Flow.NewFlow: creating conversation flow")
	f := &Flow{
		store:       store,
		dedup:       state.NewDedupGuard(store),
		queue:       queue,
		assistant:   client,
		repo:        repo,
		mapper:      records.NewMapper(repo),
		turnTimeout: DefaultTurnTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HandleInboundMessage processes one inbound message. Idempotent per
// (identity, message id), safe to call concurrently for different identities,
// and internally serialized per active thread.
func (f *Flow) HandleInboundMessage(ctx context.Context, identity string, msg models.InboundMessage) models.ProcessResult {
	slog.Info("Flow HandleInboundMessage", "identity", identity, "messageID", msg.MessageID, "has_audio", msg.Audio != "", "language", msg.Language)

	if f.dedup.IsProcessed(ctx, identity, msg.MessageID) {
		slog.Info("Flow HandleInboundMessage duplicate, skipping", "identity", identity, "messageID", msg.MessageID)
		return models.ProcessResult{Status: models.StatusDuplicate}
	}

	text, err := f.extractText(ctx, identity, msg)
	if err != nil {
		// State is deliberately left untouched and the message unmarked: the
		// user repeats and the retry re-enters at the same point.
		slog.Info("Flow HandleInboundMessage no usable text, asking to repeat", "error", err, "identity", identity)
		envelope := f.buildEnvelope(ctx, identity, repeatRequest, msg.Language, nil)
		f.saveReply(ctx, identity, envelope)
		return models.ProcessResult{Status: models.StatusError, ErrorKind: models.ErrorKindTranscription, Reply: envelope}
	}

	current := f.currentState(ctx, identity)

	var (
		role      models.AssistantRole
		handle    string
		outbound  string
		nextState models.ConversationState
		history   []models.TurnRecord
	)

	if current == models.StateNone {
		role, handle = f.beginConversation(ctx, identity, msg.Language)
		outbound = openingTurn
		nextState = models.StateAwaitingResponse
	} else {
		role, handle = f.resumeConversation(ctx, identity)
		outbound = text
		nextState = models.StateResponseReceived
		history = loadHistory(ctx, f.store, identity)
	}

	raw, err := f.executeTurn(ctx, handle, role, outbound, history)
	if err != nil {
		// Pre-turn state is preserved so a retry proceeds from the same point.
		slog.Error("Flow HandleInboundMessage assistant turn failed", "error", err, "identity", identity, "handle", handle)
		return models.ProcessResult{Status: models.StatusError, ErrorKind: models.ErrorKindAssistantTurn}
	}

	if !models.ValidTransition(current, nextState) {
		slog.Warn("Flow HandleInboundMessage unexpected state transition", "identity", identity, "from", current, "to", nextState)
	}
	if err := f.store.Set(ctx, state.StateKey(identity), string(nextState)); err != nil {
		slog.Error("Flow HandleInboundMessage state update failed", "error", err, "identity", identity)
	}

	parsed := models.ParseStructuredReply(raw)

	var question *models.QuestionOptions
	if parsed.Kind == models.ReplyQuestion {
		entry, err := LookupQuestion(role, parsed.QuestionIndex)
		if err != nil {
			slog.Error("Flow HandleInboundMessage question lookup failed", "error", err, "identity", identity, "role", role, "index", parsed.QuestionIndex)
			return models.ProcessResult{Status: models.StatusError, ErrorKind: models.ErrorKindUnknownQuestion}
		}
		question = &entry
	}

	envelope := f.buildEnvelope(ctx, identity, parsed.Text, msg.Language, question)
	f.saveReply(ctx, identity, envelope)
	appendHistory(ctx, f.store, identity, outbound, raw)
	f.dedup.MarkProcessed(ctx, identity, msg.MessageID)

	if parsed.Kind == models.ReplyCompletion {
		slog.Info("Flow HandleInboundMessage terminal reply, persisting and resetting", "identity", identity, "role", role)
		if err := f.mapper.Apply(ctx, role, identity, parsed.Fields); err != nil {
			slog.Error("Flow HandleInboundMessage completion persistence failed", "error", err, "identity", identity)
		}
		f.store.ClearConversation(ctx, identity)
		f.queue.Forget(handle)
	}

	return models.ProcessResult{Status: models.StatusSuccess, Reply: envelope}
}

// Reset performs an explicit conversation reset, used when the client starts a
// new session.
func (f *Flow) Reset(ctx context.Context, identity string) {
	slog.Info("Flow Reset", "identity", identity)
	if handle, found, _ := f.store.Get(ctx, state.ThreadKey(identity)); found {
		f.queue.Forget(handle)
	}
	f.store.ClearConversation(ctx, identity)
}

// extractText normalizes the inbound message to assistant-language text. Every
/// failure mode wraps ErrNoTranscription: from the user's side they all mean
// "the bot did not understand me" and get the request-to-repeat reply.
func (f *Flow) extractText(ctx context.Context, identity string, msg models.InboundMessage) (string, error) {
	text := msg.Text
	if msg.Audio != "" {
		if f.transcriber == nil {
			slog.Error("Flow extractText audio message without transcriber", "identity", identity)
			return "", fmt.Errorf("no transcriber configured: %w", models.ErrNoTranscription)
		}
		transcribed, err := f.transcriber.Transcribe(ctx, msg.Audio, msg.Language)
		if err != nil {
			slog.Error("Flow extractText transcription failed", "error", err, "identity", identity)
			return "", fmt.Errorf("transcription failed: %w", models.ErrNoTranscription)
		}
		text = transcribed
	}
	if text == "" {
		return "", fmt.Errorf("message carries no text: %w", models.ErrNoTranscription)
	}

	if msg.Language != "" && msg.Language != assistantLanguage && f.translator != nil {
		translated, err := f.translator.Translate(ctx, text, msg.Language, assistantLanguage)
		if err != nil {
			slog.Error("Flow extractText inbound translation failed", "error", err, "identity", identity, "language", msg.Language)
			return "", fmt.Errorf("inbound translation failed: %w", models.ErrNoTranscription)
		}
		text = translated
	}
	return text, nil
}

// currentState reads the stored conversation state, defaulting to none.
func (f *Flow) currentState(ctx context.Context, identity string) models.ConversationState {
	raw, found, err := f.store.Get(ctx, state.StateKey(identity))
	if err != nil || !found {
		return models.StateNone
	}
	return models.ConversationState(raw)
}

// beginConversation handles first contact: the assistant role is resolved from
// profile existence, a thread handle is minted, and both are persisted so they
// stay fixed for the life of the thread.
func (f *Flow) beginConversation(ctx context.Context, identity, language string) (models.AssistantRole, string) {
	role := models.RoleDailySurvey
	profile, err := f.repo.GetUserProfile(ctx, identity)
	if err != nil {
		slog.Error("Flow beginConversation profile lookup failed, assuming new user", "error", err, "identity", identity)
	}
	if profile == nil {
		role = models.RoleRegistration
		if err := f.repo.CreateUserProfile(ctx, models.UserProfile{UserID: identity, Language: language}); err != nil {
			slog.Error("Flow beginConversation profile creation failed", "error", err, "identity", identity)
		} else {
			slog.Info("Flow beginConversation registered new user", "identity", identity)
		}
	}

	handle := uuid.NewString()
	if err := f.store.Set(ctx, state.RoleKey(identity), string(role)); err != nil {
		slog.Error("Flow beginConversation role persistence failed", "error", err, "identity", identity)
	}
	if err := f.store.Set(ctx, state.ThreadKey(identity), handle); err != nil {
		slog.Error("Flow beginConversation thread persistence failed", "error", err, "identity", identity)
	}
	slog.Info("Flow beginConversation", "identity", identity, "role", role, "handle", handle)
	return role, handle
}

// resumeConversation reloads the stored role and thread handle for an active
// conversation, re-deriving them when a key went missing mid-flight.
func (f *Flow) resumeConversation(ctx context.Context, identity string) (models.AssistantRole, string) {
	handle, found, _ := f.store.Get(ctx, state.ThreadKey(identity))
	if !found || handle == "" {
		handle = uuid.NewString()
		slog.Warn("Flow resumeConversation thread handle missing, minting replacement", "identity", identity, "handle", handle)
		if err := f.store.Set(ctx, state.ThreadKey(identity), handle); err != nil {
			slog.Error("Flow resumeConversation thread persistence failed", "error", err, "identity", identity)
		}
	}

	roleRaw, found, _ := f.store.Get(ctx, state.RoleKey(identity))
	role := models.AssistantRole(roleRaw)
	if !found || (role != models.RoleRegistration && role != models.RoleDailySurvey) {
		role = models.RoleDailySurvey
		if profile, err := f.repo.GetUserProfile(ctx, identity); err == nil && profile == nil {
			role = models.RoleRegistration
		}
		slog.Warn("Flow resumeConversation role missing, re-resolved", "identity", identity, "role", role)
		if err := f.store.Set(ctx, state.RoleKey(identity), string(role)); err != nil {
			slog.Error("Flow resumeConversation role persistence failed", "error", err, "identity", identity)
		}
	}
	return role, handle
}

// executeTurn runs one model call through the per-thread serializer, bounded by
// the turn timeout so a hung call releases the thread's slot.
func (f *Flow) executeTurn(ctx context.Context, handle string, role models.AssistantRole, content string, history []models.TurnRecord) (string, error) {
	var raw string
	err := f.queue.Do(ctx, handle, func(taskCtx context.Context) error {
		callCtx, cancel := context.WithTimeout(taskCtx, f.turnTimeout)
		defer cancel()
		reply, _, err := f.assistant.ConverseTurn(callCtx, content, handle, role, history)
		if err != nil {
			return err
		}
		if reply == "" {
			return models.ErrEmptyAssistantReply
		}
		raw = reply
		return nil
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

// buildEnvelope assembles the outbound reply: translated to the conversation
// language when needed and synthesized to audio, both best-effort.
func (f *Flow) buildEnvelope(ctx context.Context, identity, text, language string, question *models.QuestionOptions) *models.ReplyEnvelope {
	if language != "" && language != assistantLanguage && f.translator != nil {
		translated, err := f.translator.Translate(ctx, text, assistantLanguage, language)
		if err != nil {
			slog.Error("Flow buildEnvelope outbound translation failed, keeping original text", "error", err, "identity", identity, "language", language)
		} else {
			text = translated
		}
	}

	envelope := &models.ReplyEnvelope{Text: text, Question: question}
	if f.synthesizer != nil {
		audio, err := f.synthesizer.Synthesize(ctx, text, language)
		if err != nil {
			slog.Error("Flow buildEnvelope synthesis failed, returning text only", "error", err, "identity", identity)
		} else {
			envelope.Audio = audio
		}
	}
	return envelope
}

// saveReply persists the assistant reply as a message row.
func (f *Flow) saveReply(ctx context.Context, identity string, envelope *models.ReplyEnvelope) {
	content, err := json.Marshal(envelope)
	if err != nil {
		slog.Error("Flow saveReply encode failed", "error", err, "identity", identity)
		return
	}
	if _, err := f.repo.SaveMessage(ctx, models.MessageRecord{UserID: identity, Content: string(content)}); err != nil {
		slog.Error("Flow saveReply persistence failed", "error", err, "identity", identity)
	}
}
