package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/p-n-ai/pai-progress/internal/learning"
)

var (
	// ErrNotFound is returned when a referenced enrollment, course or
	// quiz does not exist.
	ErrNotFound = learning.ErrNotFound
	// ErrInvalidUser is returned for malformed or unknown user ids.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidEvent is returned for malformed activity events.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrRequirementNotMet is returned when a course completion does not
	// satisfy the article and quiz requirements.
	ErrRequirementNotMet = errors.New("course requirements not met")
	// ErrConcurrentUpdate is returned when a write lost every retry
	// against concurrent writers or the per-user lock was not acquired.
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrStoreUnavailable is returned for connection failures and
	// timeouts. Callers may retry.
	ErrStoreUnavailable = errors.New("progress store unavailable")
)

// isSerializationFailure reports whether err is a PostgreSQL
// serialization failure or deadlock, both safe to retry.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// classify wraps a store failure with op and maps transport-level
// problems onto the package sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidUser),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrRequirementNotMet),
		errors.Is(err, ErrConcurrentUpdate),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case isSerializationFailure(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConcurrentUpdate, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &connErr),
		pgconn.Timeout(err):
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
