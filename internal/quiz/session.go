// Package quiz is the lesson progress engine: it tracks answer selection,
// scores a lesson's quiz and synchronizes attempts with the progress store.
//
// A Session corresponds to one view of one lesson. Call Initialize when the
// lesson is opened; the answer state lives only as long as the session.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/export"
	"github.com/p-n-ai/pai-study/internal/identity"
	"github.com/p-n-ai/pai-study/internal/progress"
)

var (
	ErrQuizUnavailable  = errors.New("quiz unavailable for this lesson")
	ErrUnknownQuestion  = errors.New("unknown question")
	ErrUnknownOption    = errors.New("unknown option")
	ErrAlreadySubmitted = errors.New("quiz already submitted")
	ErrSaveInProgress   = errors.New("save already in progress")
	ErrNothingToSave    = errors.New("no unsaved attempt")
	ErrNotSaved         = errors.New("attempt not saved")
)

// Config holds dependencies for a quiz session.
type Config struct {
	Lesson curriculum.Lesson
	// QuizErr is the lesson's content validation error, if any. A non-nil
	// value disables the quiz.
	QuizErr  error
	Identity identity.Source
	History  progress.LatestReader
	Store    progress.Appender
	Events   progress.EventLogger
	Now      func() time.Time
}

// Session holds the answer state and completion status of one lesson view.
type Session struct {
	lesson   curriculum.Lesson
	identity identity.Source
	history  progress.LatestReader
	store    progress.Appender
	events   progress.EventLogger
	now      func() time.Time

	mu        sync.Mutex
	userID    string
	answers   map[string]string
	status    Status
	submitted bool
	saving    bool
	local     *Score
	previous  *int
	pending   *progress.Attempt
}

// Result describes a submitted or re-sent attempt.
type Result struct {
	Score   Score            `json:"score"`
	Value   int              `json:"value"`
	Display string           `json:"display"`
	Saved   bool             `json:"saved"`
	Attempt progress.Attempt `json:"attempt,omitzero"`
}

// Feedback is the per-question outcome shown after submission.
type Feedback struct {
	QuestionID  string `json:"question_id"`
	Prompt      string `json:"prompt"`
	Selected    string `json:"selected,omitempty"`
	Answer      string `json:"answer"`
	Correct     bool   `json:"correct"`
	Explanation string `json:"explanation"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	LessonID  string            `json:"lesson_id"`
	UserID    string            `json:"user_id,omitempty"`
	Status    Status            `json:"status"`
	Answers   map[string]string `json:"answers"`
	Score     Score             `json:"score"`
	Display   string            `json:"display"`
	Submitted bool              `json:"submitted"`
	Saving    bool              `json:"saving"`
	Unsaved   bool              `json:"unsaved"`
	Previous  *int              `json:"previous_score,omitempty"`
	LastScore string            `json:"last_score,omitempty"`
}

// NewSession creates a session for cfg.Lesson. Missing stores default to a
// shared in-memory store, a missing identity to anonymous use.
func NewSession(cfg Config) (*Session, error) {
	if cfg.QuizErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrQuizUnavailable, cfg.Lesson.ID, cfg.QuizErr)
	}
	if cfg.Lesson.ID == "" {
		return nil, fmt.Errorf("lesson id is required")
	}

	src := cfg.Identity
	if src == nil {
		src = identity.Anonymous()
	}
	history, store := cfg.History, cfg.Store
	if history == nil || store == nil {
		mem := progress.NewMemoryStore()
		if history == nil {
			history = mem
		}
		if store == nil {
			store = mem
		}
	}
	events := cfg.Events
	if events == nil {
		events = progress.NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Session{
		lesson:   cfg.Lesson,
		identity: src,
		history:  history,
		store:    store,
		events:   events,
		now:      now,
		answers:  make(map[string]string),
		status:   NotStarted,
	}, nil
}

// Lesson returns the session's lesson.
func (s *Session) Lesson() curriculum.Lesson {
	return s.lesson
}

// Initialize resets the answer state and loads the user's latest attempt.
// Identity and store failures degrade to anonymous, no-history use.
func (s *Session) Initialize(ctx context.Context) {
	s.mu.Lock()
	s.answers = make(map[string]string)
	s.status = NotStarted
	s.submitted = false
	s.local = nil
	s.previous = nil
	s.pending = nil
	s.mu.Unlock()

	userID, signedIn, err := s.identity.CurrentUser(ctx)
	if err != nil {
		slog.Warn("identity lookup failed, continuing anonymously",
			"lesson_id", s.lesson.ID,
			"error", err,
		)
		userID, signedIn = "", false
	}
	if !signedIn {
		userID = ""
	}

	var previous *int
	if userID != "" {
		attempt, found, err := s.history.Latest(ctx, userID, s.lesson.ID)
		switch {
		case err != nil:
			slog.Warn("loading latest attempt failed",
				"lesson_id", s.lesson.ID,
				"user_id", userID,
				"error", err,
			)
		case found:
			v := attempt.Score
			previous = &v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.previous = previous
	if previous != nil && *previous > 0 {
		s.status = Completed
	}
}

// SelectAnswer records optionKey for questionID. The last selection wins.
func (s *Session) SelectAnswer(questionID, optionKey string) error {
	q, ok := s.lesson.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if !q.HasOption(optionKey) {
		return fmt.Errorf("%w: %s for question %s", ErrUnknownOption, optionKey, questionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitted {
		return ErrAlreadySubmitted
	}
	s.answers[questionID] = optionKey
	if s.status == NotStarted {
		s.status = InProgress
	}
	return nil
}

// ComputeScore counts the questions whose selected option is the correct one.
func (s *Session) ComputeScore() Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoreLocked()
}

func (s *Session) scoreLocked() Score {
	score := Score{Total: len(s.lesson.Questions)}
	for _, q := range s.lesson.Questions {
		if sel, ok := s.answers[q.ID]; ok && sel == q.Answer {
			score.Correct++
		}
	}
	return score
}

// Submit scores the quiz, reveals feedback for every question and, for a
// signed-in user, appends the attempt. A failed save returns the result
// together with an error wrapping ErrNotSaved; RetrySave re-sends it.
func (s *Session) Submit(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return Result{}, ErrSaveInProgress
	}
	if s.submitted {
		s.mu.Unlock()
		return Result{}, ErrAlreadySubmitted
	}

	score := s.scoreLocked()
	value := score.Value(s.lesson.Mode())
	s.submitted = true
	s.status = Completed
	s.local = &score
	userID := s.userID

	res := Result{
		Score:   score,
		Value:   value,
		Display: FormatScore(value, s.lesson),
	}

	if userID == "" {
		s.mu.Unlock()
		s.logEvent(ctx, "", progress.EventQuizSubmitted, map[string]any{"score": value, "anonymous": true})
		return res, nil
	}

	attempt := progress.Attempt{
		UserID:    userID,
		LessonID:  s.lesson.ID,
		Score:     value,
		Completed: true,
		Timestamp: s.now(),
	}
	s.pending = &attempt
	s.saving = true
	s.mu.Unlock()

	return s.save(ctx, attempt, res)
}

// RetrySave re-sends the attempt whose save failed.
func (s *Session) RetrySave(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return Result{}, ErrSaveInProgress
	}
	if s.pending == nil {
		s.mu.Unlock()
		return Result{}, ErrNothingToSave
	}

	// Re-stamp so the re-sent attempt sorts after anything saved meanwhile.
	s.pending.Timestamp = s.now()
	attempt := *s.pending
	res := Result{
		Value:   attempt.Score,
		Display: FormatScore(attempt.Score, s.lesson),
	}
	if s.local != nil {
		res.Score = *s.local
	}
	s.saving = true
	s.mu.Unlock()

	return s.save(ctx, attempt, res)
}

// DownloadMaterials returns the lesson's study notes as a text file and, for
// a signed-in user, records the download. The file is returned even when the
// record could not be saved.
func (s *Session) DownloadMaterials(ctx context.Context) (export.File, error) {
	file := export.Materials(s.lesson)

	s.mu.Lock()
	userID := s.userID
	if userID == "" {
		s.mu.Unlock()
		s.logEvent(ctx, "", progress.EventMaterialsDownloaded, map[string]any{"file": file.Name})
		return file, nil
	}
	if s.saving {
		s.mu.Unlock()
		return file, ErrSaveInProgress
	}

	score := 0
	switch {
	case s.submitted && s.local != nil:
		score = s.local.Value(s.lesson.Mode())
	case s.previous != nil:
		score = *s.previous
	}
	attempt := progress.Attempt{
		UserID:             userID,
		LessonID:           s.lesson.ID,
		Score:              score,
		Completed:          s.status == Completed,
		MaterialDownloaded: true,
		Timestamp:          s.now(),
	}
	if s.pending == nil {
		s.pending = &attempt
	}
	s.saving = true
	s.mu.Unlock()

	_, err := s.save(ctx, attempt, Result{})
	return file, err
}

func (s *Session) save(ctx context.Context, attempt progress.Attempt, res Result) (Result, error) {
	stored, err := s.store.Append(ctx, attempt)

	s.mu.Lock()
	s.saving = false
	if err != nil {
		if !attempt.MaterialDownloaded {
			// The submitted score is the last known one even though it is unsaved.
			v := attempt.Score
			s.previous = &v
		}
		s.mu.Unlock()
		slog.Error("saving attempt failed",
			"lesson_id", attempt.LessonID,
			"user_id", attempt.UserID,
			"error", err,
		)
		s.logEvent(ctx, attempt.UserID, progress.EventSaveFailed, map[string]any{
			"score":               attempt.Score,
			"material_downloaded": attempt.MaterialDownloaded,
		})
		return res, fmt.Errorf("%w: %w", ErrNotSaved, err)
	}
	if s.pending != nil && *s.pending == attempt {
		s.pending = nil
	}
	v := stored.Score
	s.previous = &v
	s.mu.Unlock()

	eventType := progress.EventQuizSubmitted
	if attempt.MaterialDownloaded {
		eventType = progress.EventMaterialsDownloaded
	}
	s.logEvent(ctx, attempt.UserID, eventType, map[string]any{"score": stored.Score, "attempt_id": stored.ID})

	res.Saved = true
	res.Attempt = stored
	return res, nil
}

func (s *Session) logEvent(ctx context.Context, userID, eventType string, data map[string]any) {
	if err := s.events.LogEvent(ctx, progress.Event{
		UserID:    userID,
		LessonID:  s.lesson.ID,
		EventType: eventType,
		Data:      data,
	}); err != nil {
		slog.Warn("failed to log event", "event_type", eventType, "error", err)
	}
}

// Feedback returns one entry per question once the quiz is submitted,
// answered or not. It is nil before submission.
func (s *Session) Feedback() []Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.submitted {
		return nil
	}
	out := make([]Feedback, 0, len(s.lesson.Questions))
	for _, q := range s.lesson.Questions {
		sel := s.answers[q.ID]
		out = append(out, Feedback{
			QuestionID:  q.ID,
			Prompt:      q.Prompt,
			Selected:    sel,
			Answer:      q.Answer,
			Correct:     sel != "" && sel == q.Answer,
			Explanation: q.Explanation,
		})
	}
	return out
}

// Status returns the current completion status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	answers := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	score := s.scoreLocked()
	snap := Snapshot{
		LessonID:  s.lesson.ID,
		UserID:    s.userID,
		Status:    s.status,
		Answers:   answers,
		Score:     score,
		Display:   FormatScore(score.Value(s.lesson.Mode()), s.lesson),
		Submitted: s.submitted,
		Saving:    s.saving,
		Unsaved:   s.pending != nil && !s.saving,
	}
	if s.previous != nil {
		v := *s.previous
		snap.Previous = &v
		snap.LastScore = LastScoreLabel(v, s.lesson)
	}
	return snap
}

// Watch follows identity changes: the session switches to the new user, or
// becomes anonymous after sign-out. fn, if set, receives the new snapshot.
func (s *Session) Watch(fn func(Snapshot)) (unsubscribe func()) {
	return s.identity.Subscribe(func(userID string, signedIn bool) {
		if !signedIn {
			userID = ""
		}

		s.mu.Lock()
		if userID != s.userID {
			s.userID = userID
			s.previous = nil
		}
		s.mu.Unlock()

		slog.Debug("identity changed", "lesson_id", s.lesson.ID, "signed_in", signedIn)
		if fn != nil {
			fn(s.Snapshot())
		}
	})
}
