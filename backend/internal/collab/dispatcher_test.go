package collab

import (
	"context"
	"testing"
	"time"
)

// producer 为 nil 时 sendOnce 直接成功，可以离线验证队列行为
func TestDispatcher_EnqueueDrains(t *testing.T) {
	d := NewDispatcher(nil, "", DispatcherOptions{
		QueueSize: 8,
		Workers:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 8; i++ {
		evt := FieldCommitEvent{EventType: "FIELD_COMMITTED", DocID: "doc1", EntityID: "b1", FieldID: "prompt"}
		if err := d.Enqueue(ctx, evt); err != nil {
			t.Fatalf("Enqueue #%d error: %v", i, err)
		}
	}

	// worker 持续消费，队列应当被清空
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(d.queue) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue not drained, %d left", len(d.queue))
}

func TestDispatcher_EnqueueTimeoutWhenFull(t *testing.T) {
	d := &Dispatcher{queue: make(chan FieldCommitEvent, 1)} // 不启动 worker
	_ = d.Enqueue(context.Background(), FieldCommitEvent{DocID: "doc1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Enqueue(ctx, FieldCommitEvent{DocID: "doc2"}); err == nil {
		t.Fatalf("Enqueue into full queue should time out")
	}
}
