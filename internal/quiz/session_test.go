package quiz_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/export"
	"github.com/p-n-ai/pai-study/internal/identity"
	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/quiz"
)

var submitTime = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func tenQuestionLesson(mode curriculum.ScoreMode) curriculum.Lesson {
	l := curriculum.Lesson{
		ID:        "g5-sci-plants",
		Title:     "How Plants Grow",
		Subject:   "Science",
		Grade:     5,
		ScoreMode: mode,
		Sections: []curriculum.Section{
			{Title: "Photosynthesis", Body: "Plants make food from light."},
		},
	}
	for i := 1; i <= 10; i++ {
		l.Questions = append(l.Questions, curriculum.Question{
			ID:     fmt.Sprintf("q%d", i),
			Prompt: fmt.Sprintf("Question %d?", i),
			Options: []curriculum.Option{
				{Key: "a", Text: "A"}, {Key: "b", Text: "B"},
				{Key: "c", Text: "C"}, {Key: "d", Text: "D"},
			},
			Answer:      "c",
			Explanation: fmt.Sprintf("Because %d.", i),
		})
	}
	return l
}

// answerSix selects the correct option for q1..q6 and a wrong one for q7..q10.
func answerSix(t *testing.T, s *quiz.Session) {
	t.Helper()
	for i := 1; i <= 10; i++ {
		key := "c"
		if i > 6 {
			key = "a"
		}
		require.NoError(t, s.SelectAnswer(fmt.Sprintf("q%d", i), key))
	}
}

func newSession(t *testing.T, cfg quiz.Config) *quiz.Session {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return submitTime }
	}
	s, err := quiz.NewSession(cfg)
	require.NoError(t, err)
	s.Initialize(context.Background())
	return s
}

type failingStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	next     progress.Appender
}

func (f *failingStore) Append(ctx context.Context, a progress.Attempt) (progress.Attempt, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		return progress.Attempt{}, errors.New("connection reset")
	}
	return f.next.Append(ctx, a)
}

type erroringIdentity struct{}

func (erroringIdentity) CurrentUser(context.Context) (string, bool, error) {
	return "", false, errors.New("auth backend down")
}

func (erroringIdentity) Subscribe(identity.Listener) func() { return func() {} }

type erroringReader struct{}

func (erroringReader) Latest(context.Context, string, string) (progress.Attempt, bool, error) {
	return progress.Attempt{}, false, errors.New("relation does not exist")
}

func TestNewSession_QuizUnavailable(t *testing.T) {
	_, err := quiz.NewSession(quiz.Config{
		Lesson:  tenQuestionLesson(""),
		QuizErr: curriculum.ErrEmptyQuiz,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, quiz.ErrQuizUnavailable)
}

func TestSession_SignedOutSubmit(t *testing.T) {
	store := progress.NewMemoryStore()
	events := progress.NewMemoryEventLogger()
	s := newSession(t, quiz.Config{
		Lesson:   tenQuestionLesson(curriculum.ScoreRaw),
		Identity: identity.Anonymous(),
		History:  store,
		Store:    store,
		Events:   events,
	})

	assert.Equal(t, quiz.NotStarted, s.Status())
	answerSix(t, s)
	assert.Equal(t, quiz.InProgress, s.Status())

	res, err := s.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, quiz.Completed, s.Status())
	assert.Equal(t, quiz.Score{Correct: 6, Total: 10}, res.Score)
	assert.Equal(t, "6/10", res.Display)
	assert.False(t, res.Saved)
	assert.Zero(t, store.Len(), "signed-out submit must not insert")
	assert.Equal(t, 1, events.Count(progress.EventQuizSubmitted))
}

func TestSession_SignedOutSubmitPercentDisplay(t *testing.T) {
	s := newSession(t, quiz.Config{Lesson: tenQuestionLesson(curriculum.ScorePercent)})
	answerSix(t, s)

	res, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "60/100", res.Display)
	assert.Equal(t, 60, res.Value)
}

func TestSession_SignedInSubmitAndReload(t *testing.T) {
	tests := []struct {
		mode      curriculum.ScoreMode
		wantScore int
		wantLast  string
	}{
		{curriculum.ScorePercent, 60, "Last score: 60/100"},
		{curriculum.ScoreRaw, 6, "Last score: 6/10"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			store := progress.NewMemoryStore()
			user := identity.NewMemory("u1")
			cfg := quiz.Config{
				Lesson:   tenQuestionLesson(tt.mode),
				Identity: user,
				History:  store,
				Store:    store,
			}
			s := newSession(t, cfg)
			answerSix(t, s)

			res, err := s.Submit(context.Background())
			require.NoError(t, err)
			assert.True(t, res.Saved)
			require.Equal(t, 1, store.Len())

			saved, found, err := store.Latest(context.Background(), "u1", "g5-sci-plants")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, tt.wantScore, saved.Score)
			assert.True(t, saved.Completed)
			assert.False(t, saved.MaterialDownloaded)
			assert.True(t, saved.Timestamp.Equal(submitTime))

			// A fresh view of the lesson reloads the stored attempt.
			reloaded := newSession(t, cfg)
			snap := reloaded.Snapshot()
			assert.Equal(t, quiz.Completed, snap.Status)
			assert.Equal(t, tt.wantLast, snap.LastScore)
			assert.Empty(t, snap.Answers)
		})
	}
}

func TestSession_LastSelectionWins(t *testing.T) {
	s := newSession(t, quiz.Config{Lesson: tenQuestionLesson("")})

	require.NoError(t, s.SelectAnswer("q1", "b"))
	require.NoError(t, s.SelectAnswer("q1", "c"))

	snap := s.Snapshot()
	assert.Equal(t, map[string]string{"q1": "c"}, snap.Answers)
	assert.Equal(t, 1, s.ComputeScore().Correct)
}

func TestSession_ScoreMonotonic(t *testing.T) {
	s := newSession(t, quiz.Config{Lesson: tenQuestionLesson("")})
	answerSix(t, s)
	before := s.ComputeScore().Correct

	require.NoError(t, s.SelectAnswer("q7", "c"))
	assert.Equal(t, before+1, s.ComputeScore().Correct)

	require.NoError(t, s.SelectAnswer("q7", "c"))
	assert.Equal(t, before+1, s.ComputeScore().Correct, "re-selecting the correct key changes nothing")
}

func TestSession_OneOfThreeIs33(t *testing.T) {
	lesson := tenQuestionLesson(curriculum.ScorePercent)
	lesson.Questions = lesson.Questions[:3]
	s := newSession(t, quiz.Config{Lesson: lesson})

	require.NoError(t, s.SelectAnswer("q1", "c"))
	res, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 33, res.Value)
}

func TestSession_EmptyQuizScoresZero(t *testing.T) {
	lesson := tenQuestionLesson(curriculum.ScorePercent)
	lesson.Questions = nil
	s := newSession(t, quiz.Config{Lesson: lesson})

	assert.Equal(t, 0, s.ComputeScore().Percent())
	res, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Value)
	assert.Empty(t, s.Feedback())
}

func TestSession_FeedbackForEveryQuestion(t *testing.T) {
	s := newSession(t, quiz.Config{Lesson: tenQuestionLesson("")})
	require.NoError(t, s.SelectAnswer("q1", "c"))
	require.NoError(t, s.SelectAnswer("q2", "a"))

	assert.Nil(t, s.Feedback(), "no feedback before submit")

	_, err := s.Submit(context.Background())
	require.NoError(t, err)

	fb := s.Feedback()
	require.Len(t, fb, 10)
	assert.True(t, fb[0].Correct)
	assert.False(t, fb[1].Correct)
	assert.Equal(t, "", fb[2].Selected)
	assert.False(t, fb[2].Correct)
	for _, f := range fb {
		assert.NotEmpty(t, f.Explanation)
		assert.Equal(t, "c", f.Answer)
	}
}

func TestSession_SelectAnswerErrors(t *testing.T) {
	s := newSession(t, quiz.Config{Lesson: tenQuestionLesson("")})

	assert.ErrorIs(t, s.SelectAnswer("q99", "a"), quiz.ErrUnknownQuestion)
	assert.ErrorIs(t, s.SelectAnswer("q1", "z"), quiz.ErrUnknownOption)
	assert.Equal(t, quiz.NotStarted, s.Status(), "rejected selections do not start the quiz")

	_, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, s.SelectAnswer("q1", "a"), quiz.ErrAlreadySubmitted)

	_, err = s.Submit(context.Background())
	assert.ErrorIs(t, err, quiz.ErrAlreadySubmitted)
}

func TestSession_CompletedFromHistoryIsTerminal(t *testing.T) {
	store := progress.NewMemoryStore()
	_, err := store.Append(context.Background(), progress.Attempt{
		UserID: "u1", LessonID: "g5-sci-plants", Score: 40, Completed: true,
	})
	require.NoError(t, err)

	s := newSession(t, quiz.Config{
		Lesson:   tenQuestionLesson(""),
		Identity: identity.NewMemory("u1"),
		History:  store,
		Store:    store,
	})
	assert.Equal(t, quiz.Completed, s.Status())

	require.NoError(t, s.SelectAnswer("q1", "c"))
	assert.Equal(t, quiz.Completed, s.Status())
}

func TestSession_ZeroScoreHistoryNotCompleted(t *testing.T) {
	store := progress.NewMemoryStore()
	_, err := store.Append(context.Background(), progress.Attempt{
		UserID: "u1", LessonID: "g5-sci-plants", Score: 0, Completed: true,
	})
	require.NoError(t, err)

	s := newSession(t, quiz.Config{
		Lesson:   tenQuestionLesson(""),
		Identity: identity.NewMemory("u1"),
		History:  store,
		Store:    store,
	})
	snap := s.Snapshot()
	assert.Equal(t, quiz.NotStarted, snap.Status)
	assert.Equal(t, "Last score: 0/100", snap.LastScore)
}

func TestSession_InitializeDegradesSilently(t *testing.T) {
	t.Run("identity failure", func(t *testing.T) {
		store := progress.NewMemoryStore()
		s := newSession(t, quiz.Config{
			Lesson:   tenQuestionLesson(""),
			Identity: erroringIdentity{},
			History:  store,
			Store:    store,
		})
		answerSix(t, s)
		res, err := s.Submit(context.Background())
		require.NoError(t, err)
		assert.False(t, res.Saved)
		assert.Zero(t, store.Len())
	})

	t.Run("history failure", func(t *testing.T) {
		s := newSession(t, quiz.Config{
			Lesson:   tenQuestionLesson(""),
			Identity: identity.NewMemory("u1"),
			History:  erroringReader{},
			Store:    progress.NewMemoryStore(),
		})
		snap := s.Snapshot()
		assert.Equal(t, quiz.NotStarted, snap.Status)
		assert.Nil(t, snap.Previous)
		assert.Equal(t, "u1", snap.UserID)
	})
}

func TestSession_SaveFailureAndRetry(t *testing.T) {
	mem := progress.NewMemoryStore()
	store := &failingStore{failures: 1, next: mem}
	events := progress.NewMemoryEventLogger()
	s := newSession(t, quiz.Config{
		Lesson:   tenQuestionLesson(""),
		Identity: identity.NewMemory("u1"),
		History:  mem,
		Store:    store,
		Events:   events,
	})
	answerSix(t, s)

	res, err := s.Submit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, quiz.ErrNotSaved)
	assert.False(t, res.Saved)
	assert.Equal(t, 60, res.Value, "score is computed before the save")
	assert.Equal(t, quiz.Completed, s.Status())
	assert.True(t, s.Snapshot().Unsaved)
	assert.Equal(t, 1, events.Count(progress.EventSaveFailed))

	res, err = s.RetrySave(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, 60, res.Attempt.Score)
	assert.Equal(t, 1, mem.Len())
	assert.False(t, s.Snapshot().Unsaved)
	assert.Equal(t, "Last score: 60/100", s.Snapshot().LastScore)

	_, err = s.RetrySave(context.Background())
	assert.ErrorIs(t, err, quiz.ErrNothingToSave)
}

func TestSession_FailedSaveThenDownloadKeepsNewScore(t *testing.T) {
	ctx := context.Background()
	mem := progress.NewMemoryStore()
	_, err := mem.Append(ctx, progress.Attempt{
		UserID: "u1", LessonID: "g5-sci-plants", Score: 80, Completed: true,
		Timestamp: submitTime.Add(-time.Hour),
	})
	require.NoError(t, err)

	var mu sync.Mutex
	clock := submitTime
	s := newSession(t, quiz.Config{
		Lesson:   tenQuestionLesson(""),
		Identity: identity.NewMemory("u1"),
		History:  mem,
		Store:    &failingStore{failures: 1, next: mem},
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Minute)
			return clock
		},
	})
	require.Equal(t, "Last score: 80/100", s.Snapshot().LastScore)

	for _, id := range []string{"q1", "q2", "q3"} {
		require.NoError(t, s.SelectAnswer(id, "c"))
	}
	res, err := s.Submit(ctx)
	require.ErrorIs(t, err, quiz.ErrNotSaved)
	assert.Equal(t, 30, res.Value)
	assert.Equal(t, "Last score: 30/100", s.Snapshot().LastScore)

	_, err = s.DownloadMaterials(ctx)
	require.NoError(t, err)
	latest, ok, err := mem.Latest(ctx, "u1", "g5-sci-plants")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, latest.Score, "download records the submitted score")
	assert.True(t, latest.MaterialDownloaded)

	res, err = s.RetrySave(ctx)
	require.NoError(t, err)
	assert.True(t, res.Saved)

	latest, ok, err = mem.Latest(ctx, "u1", "g5-sci-plants")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, latest.Score)
	assert.False(t, latest.MaterialDownloaded, "retried submission is the newest row")
	assert.Equal(t, 3, mem.Len())
	assert.Equal(t, "Last score: 30/100", s.Snapshot().LastScore)
}

type blockingStore struct {
	started chan struct{}
	release chan struct{}
	next    progress.Appender
}

func (b *blockingStore) Append(ctx context.Context, a progress.Attempt) (progress.Attempt, error) {
	close(b.started)
	<-b.release
	return b.next.Append(ctx, a)
}

func TestSession_SavingFlagBlocksResubmission(t *testing.T) {
	mem := progress.NewMemoryStore()
	store := &blockingStore{started: make(chan struct{}), release: make(chan struct{}), next: mem}
	s := newSession(t, quiz.Config{
		Lesson:   tenQuestionLesson(""),
		Identity: identity.NewMemory("u1"),
		History:  mem,
		Store:    store,
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()
	<-store.started

	assert.True(t, s.Snapshot().Saving)
	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, quiz.ErrSaveInProgress)
	_, err = s.RetrySave(context.Background())
	assert.ErrorIs(t, err, quiz.ErrSaveInProgress)

	close(store.release)
	require.NoError(t, <-done)
	assert.False(t, s.Snapshot().Saving)
	assert.Equal(t, 1, mem.Len())
}

func TestSession_DownloadMaterials(t *testing.T) {
	lesson := tenQuestionLesson("")

	t.Run("signed out", func(t *testing.T) {
		store := progress.NewMemoryStore()
		s := newSession(t, quiz.Config{Lesson: lesson, History: store, Store: store})

		first, err := s.DownloadMaterials(context.Background())
		require.NoError(t, err)
		second, err := s.DownloadMaterials(context.Background())
		require.NoError(t, err)

		assert.Equal(t, first.Body, second.Body, "repeated export must be byte-identical")
		assert.Equal(t, export.Materials(lesson), first)
		assert.Zero(t, store.Len())
	})

	t.Run("signed in reuses last score", func(t *testing.T) {
		store := progress.NewMemoryStore()
		s := newSession(t, quiz.Config{
			Lesson:   lesson,
			Identity: identity.NewMemory("u1"),
			History:  store,
			Store:    store,
			Now:      func() time.Time { return submitTime },
		})
		answerSix(t, s)
		_, err := s.Submit(context.Background())
		require.NoError(t, err)

		file, err := s.DownloadMaterials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Grade5_Science_HowPlantsGrow.txt", file.Name)

		latest, found, err := store.Latest(context.Background(), "u1", lesson.ID)
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, latest.MaterialDownloaded)
		assert.True(t, latest.Completed)
		assert.Equal(t, 60, latest.Score)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("signed in without history records zero", func(t *testing.T) {
		store := progress.NewMemoryStore()
		s := newSession(t, quiz.Config{
			Lesson:   lesson,
			Identity: identity.NewMemory("u2"),
			History:  store,
			Store:    store,
		})

		_, err := s.DownloadMaterials(context.Background())
		require.NoError(t, err)

		latest, found, err := store.Latest(context.Background(), "u2", lesson.ID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 0, latest.Score)
		assert.False(t, latest.Completed)
		assert.True(t, latest.MaterialDownloaded)
	})

	t.Run("save failure still returns the file", func(t *testing.T) {
		mem := progress.NewMemoryStore()
		s := newSession(t, quiz.Config{
			Lesson:   lesson,
			Identity: identity.NewMemory("u3"),
			History:  mem,
			Store:    &failingStore{failures: 1, next: mem},
		})

		file, err := s.DownloadMaterials(context.Background())
		assert.ErrorIs(t, err, quiz.ErrNotSaved)
		assert.NotEmpty(t, file.Body)
		assert.True(t, s.Snapshot().Unsaved)
	})
}

func TestSession_WatchFollowsIdentity(t *testing.T) {
	store := progress.NewMemoryStore()
	user := identity.Anonymous()
	s := newSession(t, quiz.Config{
		Lesson:   tenQuestionLesson(""),
		Identity: user,
		History:  store,
		Store:    store,
	})

	var snaps []quiz.Snapshot
	unsubscribe := s.Watch(func(snap quiz.Snapshot) { snaps = append(snaps, snap) })
	defer unsubscribe()

	user.SignIn("u9")
	require.Len(t, snaps, 1)
	assert.Equal(t, "u9", snaps[0].UserID)

	answerSix(t, s)
	res, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Saved, "submit after sign-in persists")

	user.SignOut()
	require.Len(t, snaps, 2)
	assert.Empty(t, snaps[1].UserID)
	assert.Nil(t, snaps[1].Previous)
}
