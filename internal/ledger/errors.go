package ledger

import "errors"

var (
	// ErrValidation rejects malformed plates or amounts before any
	// storage is touched.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateEntry means the plate already has an open entry. Not
	// retried automatically, the caller must re-check state.
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrStorageUnavailable means both the primary store and the fallback
	// journal failed. Decisions must never proceed past this.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
