package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/brain/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrLegalHold is returned when deleting a record under legal hold.
	ErrLegalHold = errors.New("storage: record is under legal hold")
)

// classify maps constraint and trigger failures onto the package sentinels.
// Other errors pass through unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23514": // check_violation
		return fmt.Errorf("%w: %s", model.ErrInvalidRecord, pgErr.Message)
	case "P0001": // raise_exception
		if strings.HasPrefix(pgErr.Message, "legal_hold") {
			return ErrLegalHold
		}
		return fmt.Errorf("%w: %s", model.ErrInvalidRecord, pgErr.Message)
	}
	return err
}
