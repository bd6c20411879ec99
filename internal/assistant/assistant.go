// Package assistant provides the external language-model collaborator used by
// the conversation core.
//
// A thread handle groups a sequence of turns sharing assistant-side context.
// Over the chat-completions API that context is the dialogue history replayed
// into every call, so handles are minted locally and the history travels with
// the request.
package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/daribar/surveybot/internal/models"
)

// Default persona prompts. They carry the reply contract the conversation core
// parses: catalogued questions end with a [Q:n] marker, the closing turn embeds
// the collected fields in a ```json fenced block.
const (
	defaultRegistrationPrompt = "Ты — регистрационный ассистент медицинского опросника о головной боли. " +
		"Общайся на русском языке, вежливо и кратко. Задавай по одному вопросу за раз в этом порядке: " +
		"имя, дата рождения (в формате ДД.ММ.ГГГГ), принимаемые препараты, сопутствующие заболевания, " +
		"удобное время напоминаний (в формате ЧЧ:ММ). Каждый вопрос заканчивай маркером [Q:n], где n — " +
		"номер вопроса от 1 до 5. Когда все ответы собраны, поблагодари пользователя и добавь блок " +
		"```json с полями username, birthdate, medications, comorbidity, reminder_time."
	defaultSurveyPrompt = "Ты — ассистент ежедневного опроса о головной боли. " +
		"Общайся на русском языке, вежливо и кратко. Задавай по одному вопросу за раз в этом порядке: " +
		"болела ли сегодня голова, принимались ли лекарства, интенсивность боли от 1 до 10, " +
		"область боли, характер боли. Каждый вопрос заканчивай маркером [Q:n], где n — номер вопроса " +
		"от 1 до 5. Когда все ответы собраны, поблагодари пользователя и добавь блок ```json с полями " +
		"headache_today, medicament_today, pain_intensity, pain_area, area_detail, pain_type."
)

// Client is the narrow contract the conversation core calls for one model turn.
// When threadHandle is empty a new handle is created and returned.
type Client interface {
	ConverseTurn(ctx context.Context, content, threadHandle string, role models.AssistantRole, history []models.TurnRecord) (replyText, newHandle string, err error)
}

// Opts holds configuration options for the OpenAI-backed client.
type Opts struct {
	APIKey             string
	Model              string
	RegistrationPrompt string
	SurveyPrompt       string
}

// Option defines a configuration option for the OpenAI-backed client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithRegistrationPrompt sets the system prompt for the registration assistant.
func WithRegistrationPrompt(prompt string) Option {
	return func(o *Opts) {
		o.RegistrationPrompt = prompt
	}
}

// WithSurveyPrompt sets the system prompt for the daily-survey assistant.
func WithSurveyPrompt(prompt string) Option {
	return func(o *Opts) {
		o.SurveyPrompt = prompt
	}
}

// OpenAIClient implements Client on the OpenAI chat-completions API.
type OpenAIClient struct {
	client             openai.Client
	model              openai.ChatModel
	registrationPrompt string
	surveyPrompt       string
}

// NewOpenAIClient creates the assistant client based on provided options.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("OpenAIClient.NewOpenAIClient: creating assistant client", "api_key_set", cfg.APIKey != "", "model", cfg.Model)

	if cfg.APIKey == "" {
		slog.Error("OpenAIClient API key not set")
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	model := openai.ChatModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.ChatModelGPT4o
	}
	if cfg.RegistrationPrompt == "" {
		cfg.RegistrationPrompt = defaultRegistrationPrompt
	}
	if cfg.SurveyPrompt == "" {
		cfg.SurveyPrompt = defaultSurveyPrompt
	}

	return &OpenAIClient{
		client:             openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:              model,
		registrationPrompt: cfg.RegistrationPrompt,
		surveyPrompt:       cfg.SurveyPrompt,
	}, nil
}

// ConverseTurn sends one turn to the assistant persona for role and returns the
// raw reply text. The caller bounds the call with its own context deadline.
func (c *OpenAIClient) ConverseTurn(ctx context.Context, content, threadHandle string, role models.AssistantRole, history []models.TurnRecord) (string, string, error) {
	handle := threadHandle
	if handle == "" {
		handle = uuid.NewString()
		slog.Debug("OpenAIClient ConverseTurn minted new thread handle", "handle", handle, "role", role)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(c.systemPrompt(role)))
	for _, turn := range history {
		switch turn.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(content))

	slog.Debug("OpenAIClient ConverseTurn sending request", "handle", handle, "role", role, "history_len", len(history))
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("OpenAIClient ConverseTurn request failed", "error", err, "handle", handle)
		return "", handle, fmt.Errorf("assistant turn failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Error("OpenAIClient ConverseTurn returned no content", "handle", handle)
		return "", handle, models.ErrEmptyAssistantReply
	}

	reply := resp.Choices[0].Message.Content
	slog.Debug("OpenAIClient ConverseTurn succeeded", "handle", handle, "reply_length", len(reply))
	return reply, handle, nil
}

func (c *OpenAIClient) systemPrompt(role models.AssistantRole) string {
	if role == models.RoleRegistration {
		return c.registrationPrompt
	}
	return c.surveyPrompt
}
