package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/quiz"
)

// Client message types.
const (
	msgSelect   = "select"
	msgSubmit   = "submit"
	msgDownload = "download"
	msgRetry    = "retry"
	msgState    = "state"
)

// Server message types.
const (
	msgMaterial = "material"
	msgError    = "error"
)

type clientMessage struct {
	Type       string `json:"type"`
	QuestionID string `json:"question_id,omitempty"`
	Option     string `json:"option,omitempty"`
}

type materialFile struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

type serverMessage struct {
	Type     string          `json:"type"`
	State    *quiz.Snapshot  `json:"state,omitempty"`
	Result   *quiz.Result    `json:"result,omitempty"`
	Feedback []quiz.Feedback `json:"feedback,omitempty"`
	Material *materialFile   `json:"material,omitempty"`
	Error    string          `json:"error,omitempty"`
	Unsaved  bool            `json:"unsaved,omitempty"`
}

// handleWebSocket runs one quiz session for the lifetime of the connection.
// The bearer token comes from the "token" query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r, r.URL.Query().Get("token"))
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sess.Initialize(ctx)

	unsubscribe := sess.Watch(func(snap quiz.Snapshot) {
		if err := wsjson.Write(ctx, conn, serverMessage{Type: msgState, State: &snap}); err != nil {
			slog.Debug("identity change push failed", "error", err)
		}
	})
	defer unsubscribe()

	if err := s.writeState(ctx, conn, sess); err != nil {
		return
	}

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				slog.Debug("websocket read ended", "lesson_id", sess.Lesson().ID, "error", err)
			}
			return
		}

		reply := s.dispatch(ctx, sess, msg)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			slog.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *quiz.Session, msg clientMessage) serverMessage {
	switch msg.Type {
	case msgState:
		snap := sess.Snapshot()
		return serverMessage{Type: msgState, State: &snap}

	case msgSelect:
		if err := sess.SelectAnswer(msg.QuestionID, msg.Option); err != nil {
			return serverMessage{Type: msgError, Error: err.Error()}
		}
		snap := sess.Snapshot()
		if err := s.events.LogEvent(ctx, progress.Event{
			UserID:    snap.UserID,
			LessonID:  snap.LessonID,
			EventType: progress.EventAnswerSelected,
			Data:      map[string]any{"question_id": msg.QuestionID, "option": msg.Option},
		}); err != nil {
			slog.Warn("failed to log event", "event_type", progress.EventAnswerSelected, "error", err)
		}
		return serverMessage{Type: msgState, State: &snap}

	case msgSubmit, msgRetry:
		var (
			res quiz.Result
			err error
		)
		if msg.Type == msgSubmit {
			res, err = sess.Submit(ctx)
		} else {
			res, err = sess.RetrySave(ctx)
		}
		snap := sess.Snapshot()
		reply := serverMessage{Type: msgState, State: &snap, Feedback: sess.Feedback()}
		switch {
		case errors.Is(err, quiz.ErrNotSaved):
			reply.Result = &res
			reply.Unsaved = true
			reply.Error = "your progress could not be saved, send retry to try again"
		case err != nil:
			return serverMessage{Type: msgError, Error: err.Error()}
		default:
			reply.Result = &res
		}
		return reply

	case msgDownload:
		file, err := sess.DownloadMaterials(ctx)
		reply := serverMessage{
			Type:     msgMaterial,
			Material: &materialFile{Name: file.Name, Body: string(file.Body)},
		}
		if err != nil {
			reply.Unsaved = errors.Is(err, quiz.ErrNotSaved)
			reply.Error = err.Error()
		}
		return reply

	default:
		return serverMessage{Type: msgError, Error: "unknown message type: " + msg.Type}
	}
}

func (s *Server) writeState(ctx context.Context, conn *websocket.Conn, sess *quiz.Session) error {
	snap := sess.Snapshot()
	return wsjson.Write(ctx, conn, serverMessage{Type: msgState, State: &snap})
}
