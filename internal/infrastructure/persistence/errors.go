package persistence

import (
	"errors"

	"github.com/freight/recognition/internal/domain/shared"
	"gorm.io/gorm"
)

// translateError maps driver errors onto domain sentinels. Duplicate keys are
// recognised through gorm's TranslateError, which the connection enables.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return shared.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return shared.ErrAlreadyExists
	default:
		return err
	}
}

// errOptimisticLock is returned when a versioned update matched no row
var errOptimisticLock = shared.ErrConcurrencyConflict.WithMessage("The record has been modified by another transaction")
