package notify

import (
	"context"
	"errors"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
)

// ErrSinkClosed is returned by Write after Close
var ErrSinkClosed = errors.New("sink closed")

// Sink delivers alert records to one destination. Write may be called from
// several dispatcher workers at once.
type Sink interface {
	Name() string
	Write(ctx context.Context, alert *core.AlertRecord) error
	Close() error
}
