package core

import "errors"

// Event pipeline errors
var (
	// ErrUnsupportedEvent is returned for raw notifications the engine does not consume
	ErrUnsupportedEvent = errors.New("unsupported event")
	// ErrMalformedEvent is returned when a raw notification lacks a required field
	ErrMalformedEvent = errors.New("malformed event")
)

// RejectReason maps a normalization error onto a short label for counters
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedEvent):
		return "unsupported"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed"
	default:
		return "other"
	}
}
