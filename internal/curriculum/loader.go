// Package curriculum loads lesson content (study notes and quizzes) and
// keeps it as an immutable in-memory catalog.
package curriculum

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads and caches lesson content from the filesystem.
type Loader struct {
	rootDir  string
	lessons  map[string]Lesson
	sources  map[string]string
	problems map[string]error
	quizErrs map[string]error
	mu       sync.RWMutex
}

// NewLoader creates a new lesson loader and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:  rootDir,
		lessons:  make(map[string]Lesson),
		sources:  make(map[string]string),
		problems: make(map[string]error),
		quizErrs: make(map[string]error),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading lessons: %w", err)
	}

	slog.Info("lessons loaded", "lessons", len(l.lessons), "with_problems", len(l.problems))
	return l, nil
}

// NewCatalog builds a loader from in-memory lessons, validating each like files on disk.
func NewCatalog(lessons ...Lesson) *Loader {
	l := &Loader{
		lessons:  make(map[string]Lesson),
		sources:  make(map[string]string),
		problems: make(map[string]error),
		quizErrs: make(map[string]error),
	}
	for _, lesson := range lessons {
		l.add(lesson, "memory")
	}
	return l
}

// GetLesson returns a lesson by ID.
func (l *Loader) GetLesson(id string) (Lesson, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lesson, ok := l.lessons[id]
	return lesson, ok
}

// QuizError returns why the lesson's quiz is disabled, or nil if it is usable.
func (l *Loader) QuizError(id string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quizErrs[id]
}

// Problems returns every validation problem found while loading, keyed by lesson ID.
func (l *Loader) Problems() map[string]error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]error, len(l.problems))
	for id, err := range l.problems {
		out[id] = err
	}
	return out
}

// AllLessons returns all loaded lessons ordered by grade, subject and title.
func (l *Loader) AllLessons() []Lesson {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lessons := make([]Lesson, 0, len(l.lessons))
	for _, lesson := range l.lessons {
		lessons = append(lessons, lesson)
	}
	sortLessons(lessons)
	return lessons
}

// BySubject returns the lessons of one subject (case-insensitive), ordered like AllLessons.
func (l *Loader) BySubject(subject string) []Lesson {
	var out []Lesson
	for _, lesson := range l.AllLessons() {
		if strings.EqualFold(lesson.Subject, subject) {
			out = append(out, lesson)
		}
	}
	return out
}

func sortLessons(lessons []Lesson) {
	sort.Slice(lessons, func(i, j int) bool {
		a, b := lessons[i], lessons[j]
		if a.Grade != b.Grade {
			return a.Grade < b.Grade
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadLesson(path)
		}
		return nil
	})
}

func (l *Loader) loadLesson(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var lesson Lesson
	if err := yaml.Unmarshal(data, &lesson); err != nil {
		slog.Warn("skipping invalid lesson YAML", "path", path, "error", err)
		return nil
	}

	if lesson.ID == "" {
		return nil // Not a lesson file
	}

	l.add(lesson, path)
	return nil
}

// add validates and stores a lesson. Invalid content is kept so it can still
// be read; only the quiz is disabled.
func (l *Loader) add(lesson Lesson, source string) {
	schemaErr := ValidateSchema(lesson)
	quizErr := ValidateQuiz(lesson)

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, dup := l.sources[lesson.ID]; dup {
		slog.Warn("duplicate lesson id, later file wins", "id", lesson.ID, "previous", prev, "path", source)
	}
	l.lessons[lesson.ID] = lesson
	l.sources[lesson.ID] = source
	delete(l.problems, lesson.ID)
	delete(l.quizErrs, lesson.ID)

	if problem := errors.Join(schemaErr, quizErr); problem != nil {
		l.problems[lesson.ID] = problem
		slog.Warn("lesson content has problems", "id", lesson.ID, "path", source, "error", problem)
	}
	if quizErr != nil {
		l.quizErrs[lesson.ID] = quizErr
	}
}
