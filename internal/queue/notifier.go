package queue

import "context"

// Notifier carries wake-up signals from producers to waiting workers.
// A lost signal only delays a job until the next poll.
type Notifier interface {
	Notify(ctx context.Context, jobID string) error
	Wakeups() <-chan struct{}
}

// MemoryNotifier signals workers in the same process
type MemoryNotifier struct {
	wake chan struct{}
}

// NewMemoryNotifier creates a notifier holding up to size pending signals
func NewMemoryNotifier(size int) *MemoryNotifier {
	return &MemoryNotifier{wake: make(chan struct{}, max(size, 1))}
}

func (n *MemoryNotifier) Notify(_ context.Context, _ string) error {
	select {
	case n.wake <- struct{}{}:
	default:
	}
	return nil
}

func (n *MemoryNotifier) Wakeups() <-chan struct{} {
	return n.wake
}
