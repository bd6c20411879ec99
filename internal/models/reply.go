package models

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// ReplyKind tags the variant of a parsed assistant reply.
type ReplyKind string

const (
	// ReplyText is a plain answer with no question marker and no completion payload.
	ReplyText ReplyKind = "text"
	// ReplyQuestion carries a question marker referencing the answer-option catalog.
	ReplyQuestion ReplyKind = "question"
	// ReplyCompletion carries an embedded structured-data block marking the end of the flow.
	ReplyCompletion ReplyKind = "completion"
)

// StructuredReply is the parsed result of one assistant turn. Exactly one of
// QuestionIndex (Kind == ReplyQuestion) or Fields (Kind == ReplyCompletion) is
// meaningful; Text is always the user-facing reply with markers stripped.
type StructuredReply struct {
	Kind          ReplyKind
	Text          string
	QuestionIndex int
	Fields        map[string]any
}

// Assistants mark a multiple-choice question with an inline [Q:n] tag and a
// terminal reply with a fenced ```json block containing the extracted fields.
var questionMarkerRe = regexp.MustCompile(`\[Q:(\d+)\]`)

const (
	jsonFenceOpen  = "```json"
	jsonFenceClose = "```"
)

// ParseStructuredReply decodes one raw assistant reply into its tagged variant.
// The decode happens once at the orchestration boundary; downstream code switches
// on Kind instead of probing the raw text.
func ParseStructuredReply(raw string) StructuredReply {
	reply := StructuredReply{Kind: ReplyText, Text: strings.TrimSpace(raw)}

	// Completion payload takes precedence: a terminal reply may still contain a
	// question marker left over from the assistant's phrasing.
	if start := strings.Index(raw, jsonFenceOpen); start != -1 {
		rest := raw[start+len(jsonFenceOpen):]
		if end := strings.Index(rest, jsonFenceClose); end != -1 {
			payload := strings.TrimSpace(rest[:end])
			fields := make(map[string]any)
			if err := json.Unmarshal([]byte(payload), &fields); err != nil {
				slog.Error("ParseStructuredReply completion payload decode failed", "error", err)
			} else {
				reply.Kind = ReplyCompletion
				reply.Fields = fields
			}
		}
		reply.Text = strings.TrimSpace(raw[:start])
		if reply.Kind == ReplyCompletion {
			return reply
		}
	}

	if m := questionMarkerRe.FindStringSubmatch(reply.Text); m != nil {
		index, err := strconv.Atoi(m[1])
		if err == nil {
			reply.Kind = ReplyQuestion
			reply.QuestionIndex = index
			reply.Text = strings.TrimSpace(questionMarkerRe.ReplaceAllString(reply.Text, ""))
		}
	}

	return reply
}
