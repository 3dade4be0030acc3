package goals

import (
	"errors"
	"fmt"
	"strings"
)

// Store errors classify persistence failures so callers can decide whether a
// retry makes sense. Locked and IO failures are transient; constraint and
// not-found failures are not.
var (
	ErrGoalNotFound    = errors.New("goal not found")
	ErrProfileNotFound = errors.New("profile not found")

	ErrStoreLocked     = errors.New("store is locked")
	ErrStoreIO         = errors.New("store io failure")
	ErrStoreConstraint = errors.New("store constraint violation")
)

// IsTransientStoreError reports whether a persistence error is worth retrying.
func IsTransientStoreError(err error) bool {
	return errors.Is(err, ErrStoreLocked) || errors.Is(err, ErrStoreIO)
}

// classifyStoreError wraps a raw database error with the matching sentinel.
// SQLite reports busy/locked and disk conditions only via message text, so
// classification is string-based.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "busy"):
		return fmt.Errorf("%s: %w: %v", op, ErrStoreLocked, err)
	case strings.Contains(msg, "constraint"):
		return fmt.Errorf("%s: %w: %v", op, ErrStoreConstraint, err)
	case strings.Contains(msg, "disk"), strings.Contains(msg, "i/o"), strings.Contains(msg, "readonly"):
		return fmt.Errorf("%s: %w: %v", op, ErrStoreIO, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
