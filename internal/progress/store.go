// Package progress persists quiz attempts and reads back a learner's latest
// result per lesson. History is append-only: rows are never updated or deleted.
package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Attempt is one persisted scoring or material-download event.
// Score is stored in the lesson's score mode (percent or raw count).
type Attempt struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	LessonID           string    `json:"lesson_id"`
	Score              int       `json:"score"`
	Completed          bool      `json:"completed"`
	MaterialDownloaded bool      `json:"material_downloaded"`
	Timestamp          time.Time `json:"timestamp"`
}

// LatestReader returns the most recent attempt of a user for a lesson.
// found is false when there is no attempt with a numeric score.
type LatestReader interface {
	Latest(ctx context.Context, userID, lessonID string) (attempt Attempt, found bool, err error)
}

// Appender appends a new attempt row and returns it as stored.
type Appender interface {
	Append(ctx context.Context, a Attempt) (Attempt, error)
}

// HistoryReader lists attempts newest first; limit <= 0 means all.
type HistoryReader interface {
	History(ctx context.Context, userID, lessonID string, limit int) ([]Attempt, error)
}

// Store is the full progress store collaborator.
type Store interface {
	LatestReader
	Appender
	HistoryReader
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	attempts []Attempt
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, a Attempt) (Attempt, error) {
	if a.UserID == "" {
		return Attempt{}, fmt.Errorf("user_id is required")
	}
	if a.LessonID == "" {
		return Attempt{}, fmt.Errorf("lesson_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = uuid.NewString()
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	s.attempts = append(s.attempts, a)
	return a, nil
}

func (s *MemoryStore) Latest(ctx context.Context, userID, lessonID string) (Attempt, bool, error) {
	history, err := s.History(ctx, userID, lessonID, 1)
	if err != nil || len(history) == 0 {
		return Attempt{}, false, err
	}
	return history[0], true, nil
}

func (s *MemoryStore) History(_ context.Context, userID, lessonID string, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Attempt
	for _, a := range s.attempts {
		if a.UserID == userID && a.LessonID == lessonID {
			out = append(out, a)
		}
	}
	// Ties keep insertion order, so after reversing the latest append comes first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored attempts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts)
}
