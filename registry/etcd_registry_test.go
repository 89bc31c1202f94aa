package registry

import (
	"context"
	"testing"
	"time"
)

// newTestEtcd connects to a local etcd, skipping the test when none runs.
func newTestEtcd(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"}, time.Second)
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Status(ctx, "localhost:2379"); err != nil {
		reg.client.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestEtcd(t)
	ctx := context.Background()

	// Register two instances
	inst1 := WorkerInstance{ID: "w-1", Capability: "asr", Host: "node-a", Prefetch: 1}
	inst2 := WorkerInstance{ID: "w-2", Capability: "asr", Host: "node-b", Prefetch: 1}

	if err := reg.Register(ctx, "asr_test", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "asr_test", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "asr_test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	// Deregister one
	if err := reg.Deregister(ctx, "asr_test", inst1.ID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "asr_test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].ID != inst2.ID || instances[0].Queue != "asr_test" {
		t.Fatalf("unexpected instance %+v", instances[0])
	}

	// Cleanup
	reg.Deregister(ctx, "asr_test", inst2.ID)
}

func TestEtcdWatch(t *testing.T) {
	reg := newTestEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := reg.Watch(ctx, "llm_test")
	if err := reg.Register(ctx, "llm_test", WorkerInstance{ID: "w-9"}, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), "llm_test", "w-9")

	select {
	case instances := <-updates:
		if len(instances) != 1 || instances[0].ID != "w-9" {
			t.Fatalf("unexpected update %+v", instances)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update")
	}
}
