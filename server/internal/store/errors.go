package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/collabhub/collabhub/pkg/types"
)

// MapErr classifies a backend error. Domain errors (not found, validation)
// pass through; deadline errors become ErrPersistenceTimeout; anything else
// becomes ErrPersistenceUnavailable with the original error kept in the chain.
func MapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case types.IsDomain(err):
		return err
	case errors.Is(err, types.ErrPersistenceTimeout), errors.Is(err, types.ErrPersistenceUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", types.ErrPersistenceTimeout, err)
	default:
		return fmt.Errorf("%w: %w", types.ErrPersistenceUnavailable, err)
	}
}
