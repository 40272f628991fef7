package service

import (
	"errors"
	"sync"
)

const DefaultMaxConcurrent = 3

// ErrTooManyDownloads is the admission refusal surfaced to the submitter.
// The gate keeps no wait queue; refused requests are not retried here.
var ErrTooManyDownloads = errors.New("maximum concurrent downloads reached")

// Gate bounds the number of jobs in a non-terminal status. The live count
// always comes from the job store, so a slot frees the instant a terminal
// transition is committed and a restart cannot leak slots.
type Gate struct {
	mu  sync.Mutex
	max int
}

func NewGate(max int) *Gate {
	if max <= 0 {
		max = DefaultMaxConcurrent
	}
	return &Gate{max: max}
}

// Begin serializes one admission decision. The returned func must be called
// once the decision, including any job creation, has been committed;
// otherwise concurrent submissions could over-admit past the ceiling.
func (g *Gate) Begin() func() {
	g.mu.Lock()
	return g.mu.Unlock
}

// Admit reports whether a new job fits under the ceiling, given the live
// count of non-terminal jobs.
func (g *Gate) Admit(active int) error {
	if active >= g.max {
		return ErrTooManyDownloads
	}
	return nil
}
