package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrConflict            = errors.New("conflicting update")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDBNotReady          = errors.New("database not initialized")
)

// translate maps gorm errors onto the package sentinels so callers can treat
// the gorm and in-memory stores alike.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}
