// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd is a distributed key-value store that provides strong consistency (Raft protocol).
// We use it as a "distributed roll call" for worker processes:
//
//	Key:   /mq-rpc/workers/{queue}/{instanceID}
//	Value: JSON-encoded WorkerInstance
//
// Registration uses TTL-based leases: if the worker crashes, the lease expires
// and the entry is automatically removed, so no ghost workers are listed.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/mq-rpc/workers/"

func queuePrefix(queue string) string { return keyPrefix + queue + "/" }

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, leases: make(map[string]clientv3.LeaseID)}, nil
}

// Register adds a worker instance to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// The keep-alive outlives ctx; it stops on Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, queue string, inst WorkerInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	inst.Queue = queue
	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	key := queuePrefix(queue) + inst.ID
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(context.WithoutCancel(ctx), lease.ID)
	if err != nil {
		return err
	}
	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes a worker instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, queue string, id string) error {
	key := queuePrefix(queue) + id

	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		// Revoking deletes the key and ends the keep-alive stream.
		_, err := r.client.Revoke(ctx, lease)
		return err
	}
	_, err := r.client.Delete(ctx, key)
	return err
}

// Watch monitors a queue prefix in etcd and emits updated instance lists
// whenever changes occur (new registrations, deregistrations, lease expirations).
func (r *EtcdRegistry) Watch(ctx context.Context, queue string) <-chan []WorkerInstance {
	ch := make(chan []WorkerInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, queuePrefix(queue), clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full instance list
			// (simpler than parsing individual watch events)
			instances, err := r.Discover(ctx, queue)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a queue.
func (r *EtcdRegistry) Discover(ctx context.Context, queue string) ([]WorkerInstance, error) {
	resp, err := r.client.Get(ctx, queuePrefix(queue), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]WorkerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst WorkerInstance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Close revokes every lease this registry holds and closes the client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]clientv3.LeaseID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, lease := range leases {
		r.client.Revoke(ctx, lease)
	}
	return r.client.Close()
}
