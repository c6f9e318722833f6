package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoActiveModel means no ensemble has been activated yet.
	ErrNoActiveModel = errors.New("no active model")
	// ErrNotFound is returned by stores for unknown IDs.
	ErrNotFound = errors.New("not found")
)

// InsufficientDataError aborts a stage that has too few rows to fit or
// cross-validate.
type InsufficientDataError struct {
	Stage string
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: have %d rows, need %d", e.Stage, e.Have, e.Need)
}

// FeatureDerivationError rejects one malformed raw record.
type FeatureDerivationError struct {
	Timestamp time.Time
	Field     string
	Reason    string
}

func (e *FeatureDerivationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("record %s: %s: %s", e.Timestamp.UTC().Format(time.RFC3339), e.Field, e.Reason)
	}
	return fmt.Sprintf("record %s: %s", e.Timestamp.UTC().Format(time.RFC3339), e.Reason)
}

// ModelFitError excludes one base model from the current run.
type ModelFitError struct {
	Model ModelType
	Err   error
}

func (e *ModelFitError) Error() string {
	return fmt.Sprintf("fit %s: %v", e.Model, e.Err)
}

func (e *ModelFitError) Unwrap() error { return e.Err }

// EnsembleDegenerateError is returned when no base model produced
// predictions.
type EnsembleDegenerateError struct {
	Excluded map[ModelType]string
}

func (e *EnsembleDegenerateError) Error() string {
	keys := make([]string, 0, len(e.Excluded))
	for k := range e.Excluded {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Excluded[ModelType(k)]))
	}
	return "ensemble degenerate: all base models failed (" + strings.Join(parts, "; ") + ")"
}

// PredictionUnavailable reports whether err means no forecast can be served.
func PredictionUnavailable(err error) bool {
	var degenerate *EnsembleDegenerateError
	var insufficient *InsufficientDataError
	return errors.Is(err, ErrNoActiveModel) || errors.As(err, &degenerate) || errors.As(err, &insufficient)
}
