package storage

import (
	"errors"

	"xdao.co/cadstore/model"
)

// Sentinels are *model.Error values, so both errors.Is and model.IsKind
// work on anything wrapping them.
var (
	ErrNotFound    = model.NewError(model.KindNotFound, "storage: not found")
	ErrInvalidKey  = model.NewError(model.KindInvalidCID, "storage: invalid key")
	ErrKeyMismatch = model.NewError(model.KindInvalidInput, "storage: data does not hash to key")
	ErrCorrupted   = model.NewError(model.KindCorruption, "storage: stored bytes do not match key")
)

// IsNotFound reports whether err means the key is absent. Errors that
// crossed a process boundary only keep their kind, so both are checked.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || model.IsKind(err, model.KindNotFound)
}

// IsCorrupted reports whether err means stored bytes failed verification.
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrCorrupted) || model.IsKind(err, model.KindCorruption)
}
