package quiz

import (
	"fmt"

	"github.com/p-n-ai/pai-study/internal/curriculum"
)

// Status is the derived completion state of a lesson quiz. It is never stored.
type Status string

const (
	NotStarted Status = "not_started"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
)

func (s Status) String() string {
	return string(s)
}

// StatusFor derives the status from a view's inputs: whether anything is
// answered, whether the quiz was submitted and the latest stored score.
func StatusFor(answered, submitted bool, previous *int) Status {
	switch {
	case submitted:
		return Completed
	case previous != nil && *previous > 0:
		return Completed
	case answered:
		return InProgress
	default:
		return NotStarted
	}
}

// Score is the number of correct answers out of the lesson's question count.
type Score struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Percent returns the score as a whole percentage.
func (s Score) Percent() int {
	return Percent(s.Correct, s.Total)
}

// Value returns the score in the representation stored for mode.
func (s Score) Value(mode curriculum.ScoreMode) int {
	if mode == curriculum.ScoreRaw {
		return s.Correct
	}
	return s.Percent()
}

// Percent rounds correct/total*100 half up using integer arithmetic.
// An empty quiz scores 0.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}

// FormatScore renders a stored value against the lesson's maximum, e.g.
// "60/100" in percent mode or "6/10" in raw mode.
func FormatScore(value int, l curriculum.Lesson) string {
	return fmt.Sprintf("%d/%d", value, l.MaxScore())
}

// LastScoreLabel is the text shown for a previously stored attempt.
func LastScoreLabel(value int, l curriculum.Lesson) string {
	return "Last score: " + FormatScore(value, l)
}
