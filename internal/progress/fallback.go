package progress

import (
	"context"
	"errors"
	"log/slog"
)

// NamedReader pairs a LatestReader with a name for logging.
type NamedReader struct {
	Name   string
	Reader LatestReader
}

// Named returns a NamedReader.
func Named(name string, r LatestReader) NamedReader {
	return NamedReader{Name: name, Reader: r}
}

// FallbackReader tries readers in order and returns the first numeric score.
// A reader is only consulted when every earlier one errored or found nothing.
type FallbackReader struct {
	readers []NamedReader
}

// NewFallbackReader creates a reader over the ordered chain.
func NewFallbackReader(readers ...NamedReader) *FallbackReader {
	return &FallbackReader{readers: readers}
}

func (f *FallbackReader) Latest(ctx context.Context, userID, lessonID string) (Attempt, bool, error) {
	var errs []error
	for _, nr := range f.readers {
		a, found, err := nr.Reader.Latest(ctx, userID, lessonID)
		if err != nil {
			slog.Debug("latest attempt read failed, trying next shape",
				"shape", nr.Name,
				"lesson_id", lessonID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		if found {
			return a, true, nil
		}
	}

	// Nothing found anywhere: only surface errors when every reader failed.
	if len(errs) == len(f.readers) && len(errs) > 0 {
		return Attempt{}, false, errors.Join(errs...)
	}
	return Attempt{}, false, nil
}
