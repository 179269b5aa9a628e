package eventscope

import (
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

var idCounter atomic.Uint64

// NewID returns a random UUID, falling back to a process-local counter when
// the random source fails.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return "scope-" + strconv.FormatUint(idCounter.Add(1), 10)
	}
	return id.String()
}

// Logger returns the default slog logger tagged with component.
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
