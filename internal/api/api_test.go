package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/daribar/surveybot/internal/conversation"
	"github.com/daribar/surveybot/internal/models"
	"github.com/daribar/surveybot/internal/records"
	"github.com/daribar/surveybot/internal/serializer"
	"github.com/daribar/surveybot/internal/state"
)

// stubVerifier accepts a single token and maps it to a fixed identity.
type stubVerifier struct {
	token    string
	identity string
}

func (v stubVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token != v.token {
		return "", errors.New("unknown token")
	}
	return v.identity, nil
}

// fixedAssistant always answers with the same reply.
type fixedAssistant struct {
	reply string
}

func (a fixedAssistant) ConverseTurn(ctx context.Context, content, handle string, role models.AssistantRole, history []models.TurnRecord) (string, string, error) {
	return a.reply, handle, nil
}

func newTestServer(t *testing.T, reply string) (*httptest.Server, *records.InMemoryRepository) {
	t.Helper()
	st := state.NewDualTierStore(state.NewFallbackStore(), state.NewFallbackStore())
	repo := records.NewInMemoryRepository()
	flow := conversation.NewFlow(st, serializer.New(), fixedAssistant{reply: reply}, repo)
	srv := NewServer(flow, repo, stubVerifier{token: "good-token", identity: "U1"})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, repo
}

func dialSession(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "Здравствуйте!")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSessionRejectsBadToken(t *testing.T) {
	ts, _ := newTestServer(t, "Здравствуйте!")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial with bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}

func TestSessionMessageRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, "Здравствуйте! Как вас зовут? [Q:1]")
	conn := dialSession(t, ts, "good-token")

	if err := conn.WriteJSON(clientFrame{Action: actionMessage, MessageID: "m1", Text: "Здравствуйте"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var out serverFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out.Type != "reply" || out.Status != models.StatusSuccess {
		t.Fatalf("unexpected frame: %+v", out)
	}
	if out.Text != "Здравствуйте! Как вас зовут?" {
		t.Errorf("reply text wrong: %q", out.Text)
	}
	if out.Question == nil || !out.Question.CustomOptionAllowed {
		t.Errorf("catalogued question missing from frame: %+v", out.Question)
	}
}

func TestSessionEmptyMessageFrame(t *testing.T) {
	ts, _ := newTestServer(t, "Здравствуйте!")
	conn := dialSession(t, ts, "good-token")

	if err := conn.WriteJSON(clientFrame{Action: actionMessage, MessageID: "m1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var out serverFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out.Type != "error" || out.ErrorKind != models.ErrorKindInvalidRequest {
		t.Errorf("empty frame not rejected: %+v", out)
	}
}

func TestSessionNewSessionResets(t *testing.T) {
	ts, _ := newTestServer(t, "Здравствуйте! [Q:1]")
	conn := dialSession(t, ts, "good-token")

	if err := conn.WriteJSON(clientFrame{Action: actionMessage, MessageID: "m1", Text: "Здравствуйте"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var reply serverFrame
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if err := conn.WriteJSON(clientFrame{Action: actionNewSession}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var ack serverFrame
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ack.Type != "ack" || ack.Action != actionNewSession {
		t.Errorf("reset not acknowledged: %+v", ack)
	}
}

func TestSessionChangeLanguage(t *testing.T) {
	ts, repo := newTestServer(t, "Здравствуйте!")
	ctx := context.Background()
	if err := repo.CreateUserProfile(ctx, models.UserProfile{UserID: "U1", Language: "ru"}); err != nil {
		t.Fatalf("seed profile failed: %v", err)
	}
	conn := dialSession(t, ts, "good-token")

	if err := conn.WriteJSON(clientFrame{Action: actionChangeLanguage, Language: "kk"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var ack serverFrame
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ack.Type != "ack" || ack.Action != actionChangeLanguage {
		t.Fatalf("language change not acknowledged: %+v", ack)
	}

	profile, err := repo.GetUserProfile(ctx, "U1")
	if err != nil || profile == nil {
		t.Fatalf("profile lookup failed: %v", err)
	}
	if profile.Language != "kk" {
		t.Errorf("language not updated: %q", profile.Language)
	}
}

func TestSessionInitialChat(t *testing.T) {
	ts, _ := newTestServer(t, "Здравствуйте! Как вас зовут? [Q:1]")
	conn := dialSession(t, ts, "good-token")

	if err := conn.WriteJSON(clientFrame{Action: actionInitialChat}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var out serverFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out.Type != "reply" || out.Action != actionInitialChat || out.Status != models.StatusSuccess {
		t.Fatalf("unexpected frame: %+v", out)
	}
	if out.Text == "" {
		t.Error("greeting text missing from opening turn")
	}
}

func TestSessionFetchHistory(t *testing.T) {
	ts, repo := newTestServer(t, "Здравствуйте!")
	ctx := context.Background()
	conn := dialSession(t, ts, "good-token")

	// History is empty before any exchange.
	if err := conn.WriteJSON(clientFrame{Action: actionFetchHistory}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var empty serverFrame
	if err := conn.ReadJSON(&empty); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if empty.Type != "error" || empty.Action != actionFetchHistory {
		t.Fatalf("empty history not reported: %+v", empty)
	}

	for _, rec := range []models.MessageRecord{
		{UserID: "U1", Content: `{"text":"Здравствуйте"}`, IsFromUser: true},
		{UserID: "U1", Content: `{"text":"Как вас зовут?"}`},
	} {
		if _, err := repo.SaveMessage(ctx, rec); err != nil {
			t.Fatalf("seed message failed: %v", err)
		}
	}

	if err := conn.WriteJSON(clientFrame{Action: actionFetchHistory}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var out serverFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out.Type != "ack" || out.Action != actionFetchHistory {
		t.Fatalf("history not acknowledged: %+v", out)
	}
	messages, ok := out.Data["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Errorf("expected 2 messages in frame data, got %+v", out.Data)
	}
}

func TestSessionChangeReminderTime(t *testing.T) {
	ts, repo := newTestServer(t, "Здравствуйте!")
	ctx := context.Background()
	if err := repo.CreateUserProfile(ctx, models.UserProfile{UserID: "U1", Language: "ru"}); err != nil {
		t.Fatalf("seed profile failed: %v", err)
	}
	conn := dialSession(t, ts, "good-token")

	if err := conn.WriteJSON(clientFrame{Action: actionChangeReminderTime, ReminderTime: "полдень"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var rejected serverFrame
	if err := conn.ReadJSON(&rejected); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if rejected.Type != "error" || rejected.ErrorKind != models.ErrorKindInvalidRequest {
		t.Fatalf("malformed time not rejected: %+v", rejected)
	}

	if err := conn.WriteJSON(clientFrame{Action: actionChangeReminderTime, ReminderTime: "09:30"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var ack serverFrame
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ack.Type != "ack" || ack.Action != actionChangeReminderTime {
		t.Fatalf("reminder change not acknowledged: %+v", ack)
	}

	profile, err := repo.GetUserProfile(ctx, "U1")
	if err != nil || profile == nil {
		t.Fatalf("profile lookup failed: %v", err)
	}
	if profile.ReminderTime != "09:30" {
		t.Errorf("reminder time not updated: %q", profile.ReminderTime)
	}
}

func TestSessionUnknownAction(t *testing.T) {
	ts, _ := newTestServer(t, "Здравствуйте!")
	conn := dialSession(t, ts, "good-token")

	if err := conn.WriteJSON(clientFrame{Action: "dance"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var out serverFrame
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out.Type != "error" || out.ErrorKind != models.ErrorKindInvalidRequest {
		t.Errorf("unknown action not rejected: %+v", out)
	}
}
