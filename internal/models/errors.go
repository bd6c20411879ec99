package models

import "errors"

// ErrorKind classifies turn-level failures surfaced to the transport. Recoverable
// failures (store outages, single-field coercion) are absorbed below this layer and
// never reach an ErrorKind.
type ErrorKind string

const (
	ErrorKindNone ErrorKind = ""
	// ErrorKindInvalidRequest means the inbound payload could not be decoded.
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	// ErrorKindTranscription means the speech collaborator produced no text;
	// the user is asked to repeat, conversation state is unchanged.
	ErrorKindTranscription ErrorKind = "transcription_failure"
	// ErrorKindAssistantTurn means the model call failed or returned empty content;
	// conversation state is left at its pre-turn value so a retry re-enters there.
	ErrorKindAssistantTurn ErrorKind = "server_error"
	// ErrorKindUnknownQuestion means the reply referenced an answer-option index
	// absent from the catalog.
	ErrorKindUnknownQuestion ErrorKind = "question_not_found"
)

// Sentinel errors used between the conversation core and its collaborators.
var (
	ErrEmptyAssistantReply  = errors.New("assistant returned empty reply")
	ErrUnknownQuestionIndex = errors.New("question index not found in catalog")
	ErrNoTranscription      = errors.New("no text could be extracted from message")
)
