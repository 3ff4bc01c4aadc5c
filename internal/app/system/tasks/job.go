// Package tasks defines the periodic maintenance jobs run alongside the HTTP
// server. The workers package schedules them.
package tasks

import (
	"context"
	"time"
)

// Job is one periodic task. Run is called every Interval with a context that
// is cancelled at shutdown.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}
