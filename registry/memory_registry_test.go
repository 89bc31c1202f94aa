package registry

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRegisterDiscover(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	reg.Register(ctx, "asr_tasks", WorkerInstance{ID: "b"}, 10)
	reg.Register(ctx, "asr_tasks", WorkerInstance{ID: "a"}, 10)
	reg.Register(ctx, "llm_tasks", WorkerInstance{ID: "c"}, 10)

	instances, _ := reg.Discover(ctx, "asr_tasks")
	if len(instances) != 2 || instances[0].ID != "a" || instances[0].Queue != "asr_tasks" {
		t.Fatalf("unexpected instances %+v", instances)
	}

	reg.Deregister(ctx, "asr_tasks", "a")
	instances, _ = reg.Discover(ctx, "asr_tasks")
	if len(instances) != 1 || instances[0].ID != "b" {
		t.Fatalf("unexpected instances after deregister %+v", instances)
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	updates := reg.Watch(ctx, "asr_tasks")
	reg.Register(context.Background(), "asr_tasks", WorkerInstance{ID: "w-1"}, 10)
	reg.Register(context.Background(), "asr_tasks", WorkerInstance{ID: "w-2"}, 10)

	// 只保留最新的列表
	select {
	case instances := <-updates:
		if len(instances) != 2 {
			t.Fatalf("expect latest list of 2, got %+v", instances)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("expect watch channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
