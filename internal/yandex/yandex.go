// Package yandex implements the speech and translation collaborators on the
// Yandex Cloud REST APIs.
package yandex

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
)

const (
	sttEndpoint       = "https://stt.api.cloud.yandex.net/speech/v1/stt:recognize"
	ttsEndpoint       = "https://tts.api.cloud.yandex.net/speech/v1/tts:synthesize"
	translateEndpoint = "https://translate.api.cloud.yandex.net/translate/v2/translate"
)

// Opts holds configuration options for the Yandex client.
type Opts struct {
	APIKey   string
	FolderID string
}

// Option defines a configuration option for the Yandex client.
type Option func(*Opts)

// WithAPIKey sets the Yandex Cloud API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithFolderID sets the Yandex Cloud folder id.
func WithFolderID(id string) Option {
	return func(o *Opts) {
		o.FolderID = id
	}
}

// Client calls the Yandex speech-to-text, text-to-speech and translation APIs.
type Client struct {
	http     *resty.Client
	folderID string
}

// NewClient creates a Yandex client based on provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("YandexClient.NewClient: creating Yandex client", "api_key_set", cfg.APIKey != "", "folder_id_set", cfg.FolderID != "")

	if cfg.APIKey == "" {
		slog.Error("YandexClient API key not set")
		return nil, fmt.Errorf("yandex API key not set")
	}

	http := resty.New().SetHeader("Authorization", "Api-Key "+cfg.APIKey)
	return &Client{http: http, folderID: cfg.FolderID}, nil
}

// Transcribe converts base64-encoded OGG audio to text. Returns empty text when
// nothing was recognized.
func (c *Client) Transcribe(ctx context.Context, audioBase64, language string) (string, error) {
	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", fmt.Errorf("decode audio payload: %w", err)
	}

	var result struct {
		Result string `json:"result"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lang":     speechLang(language),
			"folderId": c.folderID,
		}).
		SetHeader("Content-Type", "audio/ogg").
		SetBody(audio).
		SetResult(&result).
		Post(sttEndpoint)
	if err != nil {
		return "", fmt.Errorf("speech recognition request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("speech recognition returned %s", resp.Status())
	}
	slog.Debug("YandexClient Transcribe succeeded", "language", language, "text_length", len(result.Result))
	return result.Result, nil
}

// Synthesize converts reply text to OGG/Opus audio, returned base64-encoded.
func (c *Client) Synthesize(ctx context.Context, text, language string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"text":     text,
			"lang":     speechLang(language),
			"folderId": c.folderID,
			"format":   "oggopus",
		}).
		Post(ttsEndpoint)
	if err != nil {
		return "", fmt.Errorf("speech synthesis request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("speech synthesis returned %s", resp.Status())
	}
	slog.Debug("YandexClient Synthesize succeeded", "language", language, "audio_bytes", len(resp.Body()))
	return base64.StdEncoding.EncodeToString(resp.Body()), nil
}

// Translate translates text between languages.
func (c *Client) Translate(ctx context.Context, text, from, to string) (string, error) {
	var result struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"sourceLanguageCode": from,
			"targetLanguageCode": to,
			"texts":              []string{text},
			"folderId":           c.folderID,
		}).
		SetResult(&result).
		Post(translateEndpoint)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("translation returned %s", resp.Status())
	}
	if len(result.Translations) == 0 {
		return "", fmt.Errorf("translation returned no result")
	}
	slog.Debug("YandexClient Translate succeeded", "from", from, "to", to)
	return result.Translations[0].Text, nil
}

// speechLang maps a conversation language to the Yandex speech locale.
func speechLang(language string) string {
	if language == "kk" {
		return "kk-KK"
	}
	return "ru-RU"
}
