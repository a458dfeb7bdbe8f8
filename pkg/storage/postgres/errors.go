package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
)

// classify maps driver errors onto the shared taxonomy. Unique violations
// become Duplicate; context expiry becomes Timeout; everything else is
// Internal with the cause preserved for logs.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperrors.Duplicate("duplicate value for a unique field")
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperrors.Timeout(err)
	}

	return apperrors.Internal(err)
}
