package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daribar/surveybot/internal/models"
)

// Inbound frame actions.
const (
	actionMessage            = "message"
	actionNewSession         = "new_session"
	actionInitialChat        = "initial_chat"
	actionFetchHistory       = "fetch_history"
	actionChangeLanguage     = "change_language"
	actionChangeReminderTime = "change_reminder_time"
)

// clientFrame is one frame received from the websocket client.
type clientFrame struct {
	Action       string `json:"action"`
	MessageID    string `json:"message_id,omitempty"`
	Text         string `json:"text,omitempty"`
	Audio        string `json:"audio,omitempty"`
	Language     string `json:"language,omitempty"`
	ReminderTime string `json:"reminder_time,omitempty"`
}

// serverFrame is one frame sent back to the client.
type serverFrame struct {
	Type      string                  `json:"type"`
	Status    models.ProcessStatus    `json:"status,omitempty"`
	ErrorKind models.ErrorKind        `json:"error_kind,omitempty"`
	Text      string                  `json:"text,omitempty"`
	Audio     string                  `json:"audio,omitempty"`
	Question  *models.QuestionOptions `json:"question,omitempty"`
	Action    string                  `json:"action,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Data      map[string]any          `json:"data,omitempty"`
}

// sessionHandler verifies the bearer token, upgrades to websocket and serves the
// session loop. One session serves one identity; frames on the same connection
// are handled sequentially in arrival order.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		slog.Warn("Server.sessionHandler: missing token", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, map[string]string{"error": "missing token"})
		return
	}

	identity, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		slog.Warn("Server.sessionHandler: token verification failed", "error", err, "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Server.sessionHandler: websocket upgrade failed", "error", err, "identity", identity)
		return
	}
	defer conn.Close()

	slog.Info("Server.sessionHandler: session opened", "identity", identity)
	s.sessionLoop(r.Context(), conn, identity)
	slog.Info("Server.sessionHandler: session closed", "identity", identity)
}

func (s *Server) sessionLoop(ctx context.Context, conn *websocket.Conn, identity string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("Server.sessionLoop: read failed", "error", err, "identity", identity)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Server.sessionLoop: undecodable frame", "error", err, "identity", identity)
			s.sendFrame(conn, identity, serverFrame{
				Type:      "error",
				ErrorKind: models.ErrorKindInvalidRequest,
				Message:   "invalid JSON frame",
			})
			continue
		}

		switch frame.Action {
		case actionMessage:
			s.handleMessageFrame(ctx, conn, identity, frame)
		case actionNewSession:
			s.flow.Reset(ctx, identity)
			s.sendFrame(conn, identity, serverFrame{Type: "ack", Action: actionNewSession})
		case actionInitialChat:
			s.handleInitialChat(ctx, conn, identity)
		case actionFetchHistory:
			s.handleFetchHistory(ctx, conn, identity)
		case actionChangeLanguage:
			s.handleChangeLanguage(ctx, conn, identity, frame)
		case actionChangeReminderTime:
			s.handleChangeReminderTime(ctx, conn, identity, frame)
		default:
			slog.Warn("Server.sessionLoop: unknown action", "action", frame.Action, "identity", identity)
			s.sendFrame(conn, identity, serverFrame{
				Type:      "error",
				ErrorKind: models.ErrorKindInvalidRequest,
				Message:   "unknown action: " + frame.Action,
			})
		}
	}
}

func (s *Server) handleMessageFrame(ctx context.Context, conn *websocket.Conn, identity string, frame clientFrame) {
	if frame.Text == "" && frame.Audio == "" {
		s.sendFrame(conn, identity, serverFrame{
			Type:      "error",
			ErrorKind: models.ErrorKindInvalidRequest,
			Message:   "message frame carries neither text nor audio",
		})
		return
	}

	result := s.flow.HandleInboundMessage(ctx, identity, models.InboundMessage{
		MessageID: frame.MessageID,
		Text:      frame.Text,
		Audio:     frame.Audio,
		Language:  frame.Language,
	})

	out := serverFrame{Type: "reply", Status: result.Status, ErrorKind: result.ErrorKind}
	if result.Reply != nil {
		out.Text = result.Reply.Text
		out.Audio = result.Reply.Audio
		out.Question = result.Reply.Question
	}
	s.sendFrame(conn, identity, out)
}

// handleInitialChat starts a fresh conversation: the existing state is cleared
// and the opening turn is issued, so the client receives the greeting and the
// first question without the user typing anything.
func (s *Server) handleInitialChat(ctx context.Context, conn *websocket.Conn, identity string) {
	s.flow.Reset(ctx, identity)

	language := ""
	if profile, err := s.repo.GetUserProfile(ctx, identity); err == nil && profile != nil {
		language = profile.Language
	}

	result := s.flow.HandleInboundMessage(ctx, identity, models.InboundMessage{
		Text:     actionInitialChat,
		Language: language,
	})

	out := serverFrame{Type: "reply", Action: actionInitialChat, Status: result.Status, ErrorKind: result.ErrorKind}
	if result.Reply != nil {
		out.Text = result.Reply.Text
		out.Audio = result.Reply.Audio
		out.Question = result.Reply.Question
	}
	s.sendFrame(conn, identity, out)
}

// handleFetchHistory returns the identity's stored chat messages in
// chronological order.
func (s *Server) handleFetchHistory(ctx context.Context, conn *websocket.Conn, identity string) {
	messages, err := s.repo.ListMessages(ctx, identity, 0)
	if err != nil {
		slog.Error("Server.handleFetchHistory: list failed", "error", err, "identity", identity)
		s.sendFrame(conn, identity, serverFrame{
			Type:      "error",
			Action:    actionFetchHistory,
			ErrorKind: models.ErrorKindAssistantTurn,
			Message:   "failed to load message history",
		})
		return
	}
	if len(messages) == 0 {
		s.sendFrame(conn, identity, serverFrame{
			Type:    "error",
			Action:  actionFetchHistory,
			Message: "no message history available",
		})
		return
	}
	s.sendFrame(conn, identity, serverFrame{
		Type:   "ack",
		Action: actionFetchHistory,
		Data:   map[string]any{"messages": messages},
	})
}

func (s *Server) handleChangeLanguage(ctx context.Context, conn *websocket.Conn, identity string, frame clientFrame) {
	if frame.Language == "" {
		s.sendFrame(conn, identity, serverFrame{
			Type:      "error",
			ErrorKind: models.ErrorKindInvalidRequest,
			Message:   "change_language frame carries no language",
		})
		return
	}
	if err := s.repo.UpdateUserField(ctx, identity, "language", frame.Language); err != nil {
		slog.Error("Server.handleChangeLanguage: update failed", "error", err, "identity", identity)
		s.sendFrame(conn, identity, serverFrame{
			Type:      "error",
			ErrorKind: models.ErrorKindAssistantTurn,
			Message:   "failed to update language",
		})
		return
	}
	slog.Info("Server.handleChangeLanguage: language updated", "identity", identity, "language", frame.Language)
	s.sendFrame(conn, identity, serverFrame{
		Type:   "ack",
		Action: actionChangeLanguage,
		Data:   map[string]any{"language": frame.Language},
	})
}

func (s *Server) handleChangeReminderTime(ctx context.Context, conn *websocket.Conn, identity string, frame clientFrame) {
	if frame.ReminderTime == "" {
		s.sendFrame(conn, identity, serverFrame{
			Type:      "error",
			Action:    actionChangeReminderTime,
			ErrorKind: models.ErrorKindInvalidRequest,
			Message:   "change_reminder_time frame carries no reminder_time",
		})
		return
	}
	if _, err := time.Parse("15:04", frame.ReminderTime); err != nil {
		s.sendFrame(conn, identity, serverFrame{
			Type:      "error",
			Action:    actionChangeReminderTime,
			ErrorKind: models.ErrorKindInvalidRequest,
			Message:   "reminder_time must be HH:MM",
		})
		return
	}
	if err := s.repo.UpdateUserField(ctx, identity, "reminder_time", frame.ReminderTime); err != nil {
		slog.Error("Server.handleChangeReminderTime: update failed", "error", err, "identity", identity)
		s.sendFrame(conn, identity, serverFrame{
			Type:      "error",
			Action:    actionChangeReminderTime,
			ErrorKind: models.ErrorKindAssistantTurn,
			Message:   "failed to update reminder time",
		})
		return
	}
	slog.Info("Server.handleChangeReminderTime: reminder time updated", "identity", identity, "reminder_time", frame.ReminderTime)
	s.sendFrame(conn, identity, serverFrame{
		Type:   "ack",
		Action: actionChangeReminderTime,
		Data:   map[string]any{"reminder_time": frame.ReminderTime},
	})
}

func (s *Server) sendFrame(conn *websocket.Conn, identity string, frame serverFrame) {
	if err := conn.WriteJSON(frame); err != nil {
		slog.Error("Server.sendFrame: write failed", "error", err, "identity", identity)
	}
}
