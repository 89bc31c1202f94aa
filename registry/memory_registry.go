package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps instances in process. TTLs are ignored: entries live
// until Deregister. Used by tests and single-process deployments.
type MemoryRegistry struct {
	mu       sync.Mutex
	queues   map[string]map[string]WorkerInstance
	watchers map[string][]chan []WorkerInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		queues:   make(map[string]map[string]WorkerInstance),
		watchers: make(map[string][]chan []WorkerInstance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, queue string, inst WorkerInstance, ttl int64) error {
	inst.Queue = queue
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues[queue] == nil {
		r.queues[queue] = make(map[string]WorkerInstance)
	}
	r.queues[queue][inst.ID] = inst
	r.notify(queue)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, queue string, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues[queue], id)
	r.notify(queue)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, queue string) ([]WorkerInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(queue), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, queue string) <-chan []WorkerInstance {
	ch := make(chan []WorkerInstance, 1)
	r.mu.Lock()
	r.watchers[queue] = append(r.watchers[queue], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[queue]
		for i, w := range ws {
			if w == ch {
				r.watchers[queue] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) Close() error { return nil }

// list returns instances sorted by ID. Caller holds r.mu.
func (r *MemoryRegistry) list(queue string) []WorkerInstance {
	instances := make([]WorkerInstance, 0, len(r.queues[queue]))
	for _, inst := range r.queues[queue] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances
}

// notify pushes the latest list to every watcher, replacing a stale unread
// one. Caller holds r.mu.
func (r *MemoryRegistry) notify(queue string) {
	for _, ch := range r.watchers[queue] {
		select {
		case <-ch:
		default:
		}
		ch <- r.list(queue)
	}
}
