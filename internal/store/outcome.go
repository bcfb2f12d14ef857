package store

// Backend identifies which persistence backend served an operation.
type Backend int

const (
	BackendPrimary Backend = iota + 1
	BackendFallback
)

func (b Backend) String() string {
	switch b {
	case BackendPrimary:
		return "primary"
	case BackendFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Outcome tags every dual-store operation with the backend that served it,
// so callers branch on data instead of on error types. Pending marks a
// fallback write that still has to be reconciled into the primary.
type Outcome struct {
	Backend Backend
	Pending bool
}
