// Package web serves the lesson catalog, quiz sessions and progress over
// HTTP and WebSocket.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/export"
	"github.com/p-n-ai/pai-study/internal/identity"
	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/quiz"
	"github.com/p-n-ai/pai-study/internal/report"
)

const readyTimeout = 2 * time.Second

// Catalog is the read side of the lesson registry.
type Catalog interface {
	GetLesson(id string) (curriculum.Lesson, bool)
	AllLessons() []curriculum.Lesson
	BySubject(subject string) []curriculum.Lesson
	QuizError(id string) error
}

// HealthChecker is a dependency checked by /readyz.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// IdentityResolver maps a bearer token (possibly empty) to an identity source.
type IdentityResolver func(token string) identity.Source

// Options holds dependencies for the web server.
type Options struct {
	Catalog  Catalog
	Store    progress.Store
	Events   progress.EventLogger
	Identity IdentityResolver
	Checks   map[string]HealthChecker
	Now      func() time.Time
}

// Server is the HTTP front end.
type Server struct {
	catalog  Catalog
	store    progress.Store
	events   progress.EventLogger
	identity IdentityResolver
	checks   map[string]HealthChecker
	now      func() time.Time
}

// NewServer creates a server. Store defaults to memory, identity to anonymous.
func NewServer(opts Options) *Server {
	store := opts.Store
	if store == nil {
		store = progress.NewMemoryStore()
	}
	events := opts.Events
	if events == nil {
		events = progress.NopEventLogger{}
	}
	resolver := opts.Identity
	if resolver == nil {
		resolver = func(string) identity.Source { return identity.Anonymous() }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		catalog:  opts.Catalog,
		store:    store,
		events:   events,
		identity: resolver,
		checks:   opts.Checks,
		now:      now,
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /api/lessons", s.handleListLessons)
	mux.HandleFunc("GET /api/lessons/{id}", s.handleGetLesson)
	mux.HandleFunc("GET /api/lessons/{id}/progress", s.handleProgress)
	mux.HandleFunc("POST /api/lessons/{id}/attempts", s.handleSubmit)
	mux.HandleFunc("GET /api/lessons/{id}/materials", s.handleMaterials)
	mux.HandleFunc("GET /api/lessons/{id}/history.xlsx", s.handleHistory)
	mux.HandleFunc("GET /ws/lessons/{id}", s.handleWebSocket)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		slog.Warn("readiness check failed", "checks", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type lessonSummary struct {
	curriculum.Summary
	QuizAvailable bool `json:"quiz_available"`
}

type questionView struct {
	ID      string              `json:"id"`
	Prompt  string              `json:"prompt"`
	Options []curriculum.Option `json:"options"`
}

type lessonView struct {
	ID            string               `json:"id"`
	Title         string               `json:"title"`
	Subject       string               `json:"subject"`
	Grade         int                  `json:"grade"`
	ScoreMode     curriculum.ScoreMode `json:"score_mode"`
	MaxScore      int                  `json:"max_score"`
	Sections      []curriculum.Section `json:"sections"`
	Questions     []questionView       `json:"questions"`
	QuizAvailable bool                 `json:"quiz_available"`
}

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	lessons := s.catalog.AllLessons()
	if subject := r.URL.Query().Get("subject"); subject != "" {
		lessons = s.catalog.BySubject(subject)
	}

	out := make([]lessonSummary, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, lessonSummary{
			Summary:       l.Summarize(),
			QuizAvailable: s.catalog.QuizError(l.ID) == nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lesson(w, r)
	if !ok {
		return
	}

	view := lessonView{
		ID:            l.ID,
		Title:         l.Title,
		Subject:       l.Subject,
		Grade:         l.Grade,
		ScoreMode:     l.Mode(),
		MaxScore:      l.MaxScore(),
		Sections:      l.Sections,
		Questions:     []questionView{},
		QuizAvailable: s.catalog.QuizError(l.ID) == nil,
	}
	if view.Sections == nil {
		view.Sections = []curriculum.Section{}
	}
	if view.QuizAvailable {
		for _, q := range l.Questions {
			view.Questions = append(view.Questions, questionView{ID: q.ID, Prompt: q.Prompt, Options: q.Options})
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r, bearerToken(r))
	if !ok {
		return
	}
	sess.Initialize(r.Context())
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type submitRequest struct {
	Answers map[string]string `json:"answers"`
}

type submitResponse struct {
	Result    quiz.Result     `json:"result"`
	Status    quiz.Status     `json:"status"`
	Feedback  []quiz.Feedback `json:"feedback"`
	Saved     bool            `json:"saved"`
	SaveError string          `json:"save_error,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := s.session(w, r, bearerToken(r))
	if !ok {
		return
	}
	sess.Initialize(r.Context())

	for qid, key := range req.Answers {
		if err := sess.SelectAnswer(qid, key); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := sess.Submit(r.Context())
	resp := submitResponse{
		Result:   res,
		Status:   sess.Status(),
		Feedback: sess.Feedback(),
		Saved:    res.Saved,
	}
	if err != nil {
		if !errors.Is(err, quiz.ErrNotSaved) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		resp.SaveError = "your progress could not be saved, please retry"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMaterials(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lesson(w, r)
	if !ok {
		return
	}

	// X-Progress-Saved is "true" when the download was recorded, "anonymous"
	// when there is no user to record it for and "false" otherwise.
	file := export.Materials(l)
	saved := "false"
	if s.catalog.QuizError(l.ID) == nil {
		sess, err := s.newSession(l, bearerToken(r))
		if err == nil {
			sess.Initialize(r.Context())
			file, err = sess.DownloadMaterials(r.Context())
			if err == nil {
				saved = "true"
				if sess.Snapshot().UserID == "" {
					saved = "anonymous"
				}
			}
		}
		if err != nil {
			slog.Warn("materials download not recorded", "lesson_id", l.ID, "error", err)
		}
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.Header().Set("X-Progress-Saved", saved)
	w.WriteHeader(http.StatusOK)
	w.Write(file.Body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lesson(w, r)
	if !ok {
		return
	}

	userID, signedIn, err := s.identity(bearerToken(r)).CurrentUser(r.Context())
	if err != nil || !signedIn {
		writeError(w, http.StatusUnauthorized, "sign in to view your history")
		return
	}

	attempts, err := s.store.History(r.Context(), userID, l.ID, 0)
	if err != nil {
		slog.Error("loading history failed", "lesson_id", l.ID, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": report.FileName(l)}))
	if err := report.WriteAttempts(w, l, attempts); err != nil {
		slog.Error("writing history report failed", "lesson_id", l.ID, "error", err)
	}
}

func (s *Server) lesson(w http.ResponseWriter, r *http.Request) (curriculum.Lesson, bool) {
	id := r.PathValue("id")
	l, ok := s.catalog.GetLesson(id)
	if !ok {
		writeError(w, http.StatusNotFound, "lesson not found")
		return curriculum.Lesson{}, false
	}
	return l, true
}

func (s *Server) session(w http.ResponseWriter, r *http.Request, token string) (*quiz.Session, bool) {
	l, ok := s.lesson(w, r)
	if !ok {
		return nil, false
	}
	sess, err := s.newSession(l, token)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) newSession(l curriculum.Lesson, token string) (*quiz.Session, error) {
	return quiz.NewSession(quiz.Config{
		Lesson:   l,
		QuizErr:  s.catalog.QuizError(l.ID),
		Identity: s.identity(token),
		History:  s.store,
		Store:    s.store,
		Events:   s.events,
		Now:      s.now,
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
