package curriculum

import "fmt"

// ScoreMode selects how a lesson's quiz score is stored and displayed.
type ScoreMode string

const (
	// ScorePercent stores round(correct/total*100), 0-100.
	ScorePercent ScoreMode = "percent"
	// ScoreRaw stores the number of correct answers, 0-N.
	ScoreRaw ScoreMode = "raw"
)

// Lesson is one unit of study content plus its quiz, loaded from YAML.
type Lesson struct {
	ID        string     `yaml:"id" json:"id"`
	Title     string     `yaml:"title" json:"title"`
	Subject   string     `yaml:"subject" json:"subject"`
	Grade     int        `yaml:"grade" json:"grade"`
	ScoreMode ScoreMode  `yaml:"score_mode" json:"score_mode"`
	Sections  []Section  `yaml:"sections" json:"sections"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// Section is a titled block of study notes.
type Section struct {
	Title string `yaml:"title" json:"title"`
	Body  string `yaml:"body" json:"body"`
}

// Question is a multiple-choice question with exactly one correct option.
type Question struct {
	ID          string   `yaml:"id" json:"id"`
	Prompt      string   `yaml:"prompt" json:"prompt"`
	Options     []Option `yaml:"options" json:"options"`
	Answer      string   `yaml:"answer" json:"answer"`
	Explanation string   `yaml:"explanation" json:"explanation"`
}

// Option is one labeled choice of a question.
type Option struct {
	Key  string `yaml:"key" json:"key"`
	Text string `yaml:"text" json:"text"`
}

// Mode returns the lesson's score mode, defaulting to percent.
func (l Lesson) Mode() ScoreMode {
	if l.ScoreMode == "" {
		return ScorePercent
	}
	return l.ScoreMode
}

// MaxScore is the denominator used when displaying a stored score.
func (l Lesson) MaxScore() int {
	if l.Mode() == ScoreRaw {
		return len(l.Questions)
	}
	return 100
}

// Question returns the question with the given ID.
func (l Lesson) Question(id string) (Question, bool) {
	for _, q := range l.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// HasOption reports whether key is one of the question's option keys.
func (q Question) HasOption(key string) bool {
	for _, o := range q.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// Summary is the catalog listing view of a lesson.
type Summary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Subject       string    `json:"subject"`
	Grade         int       `json:"grade"`
	ScoreMode     ScoreMode `json:"score_mode"`
	SectionCount  int       `json:"section_count"`
	QuestionCount int       `json:"question_count"`
}

// Summarize returns the listing view of l.
func (l Lesson) Summarize() Summary {
	return Summary{
		ID:            l.ID,
		Title:         l.Title,
		Subject:       l.Subject,
		Grade:         l.Grade,
		ScoreMode:     l.Mode(),
		SectionCount:  len(l.Sections),
		QuestionCount: len(l.Questions),
	}
}

func (l Lesson) String() string {
	return fmt.Sprintf("%s (Grade %d %s: %s)", l.ID, l.Grade, l.Subject, l.Title)
}
