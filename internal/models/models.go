// Package models defines the domain types shared across surveybot components.
package models

import "time"

// ConversationState tracks where a conversation stands between turns.
// It is a liveness flag guarding re-entrancy, not a full workflow state.
type ConversationState string

const (
	// StateNone means no active exchange (first contact or cleared).
	StateNone ConversationState = ""
	// StateAwaitingResponse means the opening turn was sent and a reply is pending or was just produced.
	StateAwaitingResponse ConversationState = "awaiting_response"
	// StateResponseReceived means the user's follow-up has been forwarded and a reply obtained.
	StateResponseReceived ConversationState = "response_received"
)

// ValidTransition reports whether moving from one conversation state to another is legal.
func ValidTransition(from, to ConversationState) bool {
	switch from {
	case StateNone:
		return to == StateAwaitingResponse
	case StateAwaitingResponse:
		return to == StateResponseReceived || to == StateNone
	case StateResponseReceived:
		return to == StateResponseReceived || to == StateNone
	}
	return false
}

// AssistantRole selects which assistant persona a conversation is addressed to.
// The role is chosen once per conversation and stays fixed for the life of the thread.
type AssistantRole string

const (
	// RoleRegistration conducts the one-time intake questionnaire for new users.
	RoleRegistration AssistantRole = "registration"
	// RoleDailySurvey conducts the recurring daily headache survey.
	RoleDailySurvey AssistantRole = "daily_survey"
)

// InboundMessage is one message delivered by the transport layer.
// Either Text or Audio (base64-encoded) is set; MessageID may be empty when the
// transport could not supply one, in which case the message is always handled.
type InboundMessage struct {
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Language  string `json:"language,omitempty"`
}

// ProcessStatus is the outcome class of handling one inbound message.
type ProcessStatus string

const (
	StatusSuccess   ProcessStatus = "success"
	StatusDuplicate ProcessStatus = "duplicate"
	StatusError     ProcessStatus = "error"
)

// QuestionOptions is one entry of the fixed answer-option catalog.
type QuestionOptions struct {
	Options             []string `json:"options"`
	CustomOptionAllowed bool     `json:"is_custom_option_allowed"`
}

// ReplyEnvelope is the assistant reply returned to the transport: the reply text,
// optional synthesized audio, and optional answer options when the assistant asked
// a catalogued multiple-choice question.
type ReplyEnvelope struct {
	Text     string           `json:"text"`
	Audio    string           `json:"audio,omitempty"`
	Question *QuestionOptions `json:"question,omitempty"`
}

// ProcessResult is returned by the conversation core for every inbound message.
type ProcessResult struct {
	Status    ProcessStatus  `json:"status"`
	Reply     *ReplyEnvelope `json:"reply,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
}

// UserProfile is the persisted registration record for one user.
type UserProfile struct {
	UserID       string     `json:"userid" db:"userid"`
	Language     string     `json:"language" db:"language"`
	Username     string     `json:"username" db:"username"`
	Birthdate    *time.Time `json:"birthdate,omitempty" db:"birthdate"`
	Medications  string     `json:"medications" db:"medications"`
	Comorbidity  string     `json:"comorbidity" db:"comorbidity"`
	ReminderTime string     `json:"reminder_time" db:"reminder_time"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// SurveyRecord is one daily-survey row. A record is considered current only while
// it is inside the one-hour freshness window from CreatedAt.
type SurveyRecord struct {
	SurveyID        int64     `json:"survey_id" db:"survey_id"`
	UserID          string    `json:"userid" db:"userid"`
	HeadacheToday   string    `json:"headache_today" db:"headache_today"`
	MedicamentToday string    `json:"medicament_today" db:"medicament_today"`
	PainIntensity   int       `json:"pain_intensity" db:"pain_intensity"`
	PainArea        string    `json:"pain_area" db:"pain_area"`
	AreaDetail      string    `json:"area_detail" db:"area_detail"`
	PainType        string    `json:"pain_type" db:"pain_type"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// SurveyFreshnessWindow is how long after creation a survey record may still be
// updated in place. Older records are left untouched and a new one is created.
const SurveyFreshnessWindow = time.Hour

// MessageRecord is one persisted chat message (assistant reply or user message).
type MessageRecord struct {
	ID         int64     `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Content    string    `json:"content" db:"content"`
	IsFromUser bool      `json:"is_from_user" db:"is_from_user"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// TurnRecord is one request/response exchange with the assistant, kept in the
// dialogue history so a thread handle carries context across turns.
type TurnRecord struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
