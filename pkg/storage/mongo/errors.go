package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
)

// classify maps driver errors onto the shared taxonomy. Already-classified
// errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return ae
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperrors.Duplicate("duplicate value for a unique field")
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return apperrors.Timeout(err)
	}
	return apperrors.Internal(err)
}
