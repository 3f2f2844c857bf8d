package curriculum

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrEmptyQuiz is returned for lessons without questions.
var ErrEmptyQuiz = errors.New("lesson has no questions")

const lessonSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "title", "subject", "grade"],
  "properties": {
    "id":         {"type": "string", "minLength": 1},
    "title":      {"type": "string", "minLength": 1},
    "subject":    {"type": "string", "minLength": 1},
    "grade":      {"type": "integer", "minimum": 0},
    "score_mode": {"enum": ["", "percent", "raw"]},
    "sections": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["title", "body"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "body":  {"type": "string"}
        }
      }
    },
    "questions": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id", "prompt", "options", "answer"],
        "properties": {
          "id":     {"type": "string", "minLength": 1},
          "prompt": {"type": "string", "minLength": 1},
          "answer": {"type": "string", "minLength": 1},
          "options": {
            "type": "array",
            "minItems": 2,
            "items": {
              "type": "object",
              "required": ["key", "text"],
              "properties": {
                "key":  {"type": "string", "minLength": 1},
                "text": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(lessonSchema)

// ValidateSchema checks the lesson's shape against the lesson JSON Schema.
func ValidateSchema(l Lesson) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(l))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema: %s", strings.Join(msgs, "; "))
}

// ValidateQuiz checks the quiz preconditions the scoring engine relies on:
// a non-empty question set, unique question IDs, unique option keys per
// question and exactly one option matching the answer key.
func ValidateQuiz(l Lesson) error {
	if len(l.Questions) == 0 {
		return ErrEmptyQuiz
	}

	var errs []error
	seen := make(map[string]bool, len(l.Questions))
	for i, q := range l.Questions {
		if q.ID == "" {
			errs = append(errs, fmt.Errorf("question %d: missing id", i+1))
		} else if seen[q.ID] {
			errs = append(errs, fmt.Errorf("question %s: duplicate id", q.ID))
		}
		seen[q.ID] = true

		keys := make(map[string]bool, len(q.Options))
		matches := 0
		for _, o := range q.Options {
			if keys[o.Key] {
				errs = append(errs, fmt.Errorf("question %s: duplicate option key %q", q.ID, o.Key))
			}
			keys[o.Key] = true
			if o.Key == q.Answer {
				matches++
			}
		}
		if matches != 1 {
			errs = append(errs, fmt.Errorf("question %s: answer %q matches %d options, want 1", q.ID, q.Answer, matches))
		}
	}
	return errors.Join(errs...)
}
