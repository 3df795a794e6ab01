package crawler

import "time"

// WorkerContext carries the lifecycle clock of one worker. It is created at
// worker start-up and threaded through every traversal the worker runs.
type WorkerContext struct {
	WorkerID  string
	StartedAt time.Time
	clock     Clock
}

// NewWorkerContext stamps the worker start time from clock.
func NewWorkerContext(workerID string, clock Clock) *WorkerContext {
	return &WorkerContext{
		WorkerID:  workerID,
		StartedAt: clock.Now(),
		clock:     clock,
	}
}

// Now returns the worker clock's current time.
func (w *WorkerContext) Now() time.Time {
	return w.clock.Now()
}

// Elapsed returns the cumulative time since the worker started.
func (w *WorkerContext) Elapsed() time.Duration {
	return w.clock.Now().Sub(w.StartedAt)
}
