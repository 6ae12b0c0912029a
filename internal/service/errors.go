package service

import (
	"errors"

	"docuflow/internal/apperror"

	"gorm.io/gorm"
)

// repoError classifies a repository error for callers.
func repoError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperror.NotFound(notFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperror.Wrap(apperror.KindConflict, "el registro ya existe", err)
	default:
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperror.Storage("database error", err)
	}
}

// invalid wraps an ozzo-validation error as a Validation error.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return apperror.Wrap(apperror.KindValidation, err.Error(), err)
}
