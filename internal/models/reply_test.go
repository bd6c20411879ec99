package models

import "testing"

func TestParseStructuredReplyPlainText(t *testing.T) {
	reply := ParseStructuredReply("Здравствуйте! Чем могу помочь?")
	if reply.Kind != ReplyText {
		t.Fatalf("expected text variant, got %s", reply.Kind)
	}
	if reply.Text != "Здравствуйте! Чем могу помочь?" {
		t.Errorf("text mangled: %q", reply.Text)
	}
}

func TestParseStructuredReplyQuestionMarker(t *testing.T) {
	reply := ParseStructuredReply("Болела ли у вас сегодня голова? [Q:1]")
	if reply.Kind != ReplyQuestion {
		t.Fatalf("expected question variant, got %s", reply.Kind)
	}
	if reply.QuestionIndex != 1 {
		t.Errorf("wrong question index: %d", reply.QuestionIndex)
	}
	if reply.Text != "Болела ли у вас сегодня голова?" {
		t.Errorf("marker not stripped from text: %q", reply.Text)
	}
}

func TestParseStructuredReplyCompletion(t *testing.T) {
	raw := "Спасибо, опрос завершён.\n```json\n{\"pain_intensity\": 7, \"pain_area\": \"висок\"}\n```"
	reply := ParseStructuredReply(raw)
	if reply.Kind != ReplyCompletion {
		t.Fatalf("expected completion variant, got %s", reply.Kind)
	}
	if reply.Text != "Спасибо, опрос завершён." {
		t.Errorf("fenced block not stripped from text: %q", reply.Text)
	}
	if v, ok := reply.Fields["pain_area"]; !ok || v != "висок" {
		t.Errorf("completion fields not decoded: %v", reply.Fields)
	}
}

func TestParseStructuredReplyCompletionWinsOverMarker(t *testing.T) {
	raw := "Последний вопрос закрыт [Q:5]\n```json\n{\"pain_type\": \"давящая\"}\n```"
	reply := ParseStructuredReply(raw)
	if reply.Kind != ReplyCompletion {
		t.Fatalf("completion payload must take precedence, got %s", reply.Kind)
	}
}

func TestParseStructuredReplyMalformedPayload(t *testing.T) {
	raw := "Готово.\n```json\n{not json}\n```"
	reply := ParseStructuredReply(raw)
	if reply.Kind == ReplyCompletion {
		t.Fatal("malformed payload must not produce a completion")
	}
	if reply.Text != "Готово." {
		t.Errorf("unexpected text: %q", reply.Text)
	}
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to ConversationState
		want     bool
	}{
		{StateNone, StateAwaitingResponse, true},
		{StateAwaitingResponse, StateResponseReceived, true},
		{StateResponseReceived, StateResponseReceived, true},
		{StateResponseReceived, StateNone, true},
		{StateAwaitingResponse, StateNone, true},
		{StateNone, StateResponseReceived, false},
		{StateNone, StateNone, false},
	}
	for _, c := range cases {
		if got := ValidTransition(c.from, c.to); got != c.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
