// Package registry tracks which worker processes currently consume each
// work queue. The broker distributes jobs on its own; the registry only makes
// the pools observable (who is alive, with what prefetch, since when).
package registry

import (
	"context"
	"time"
)

// WorkerInstance describes one worker loop attached to a queue.
type WorkerInstance struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	Capability string    `json:"capability"`
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	Prefetch   int       `json:"prefetch"`
	Version    string    `json:"version,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

type Registry interface {
	// Register announces inst under queue. The entry expires ttl seconds
	// after the process stops renewing it.
	Register(ctx context.Context, queue string, inst WorkerInstance, ttl int64) error
	Deregister(ctx context.Context, queue string, id string) error
	Discover(ctx context.Context, queue string) ([]WorkerInstance, error)
	// Watch emits the full instance list of queue on every change until ctx ends.
	Watch(ctx context.Context, queue string) <-chan []WorkerInstance
	Close() error
}
