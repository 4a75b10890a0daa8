package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/room"
)

type stubGateway struct {
	mu      sync.Mutex
	commits int
	last    any
}

func (g *stubGateway) CommitField(ctx context.Context, docID, entityID, fieldID string, value any, clientTS int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits++
	g.last = value
	return time.Now().UnixMilli(), nil
}

// 房间校验不通过的编辑直接丢弃：coalescer 为 nil，若误提交会 panic
func TestConn_DropFieldUpdateFromUnboundConn(t *testing.T) {
	h := NewHub(room.NewRegistry(), nil)
	c := newTestConn(h, 1, "alice")

	c.handleFieldUpdate(ClientMessage{Type: "field-update", EntityID: "b1", FieldID: "prompt", Value: "x"})

	if got := drain(c); len(got) != 0 {
		t.Fatalf("unbound conn received %v, want silence", got)
	}
}

func TestConn_DropMalformedFieldUpdate(t *testing.T) {
	registry := room.NewRegistry()
	h := NewHub(registry, nil)
	c := newTestConn(h, 1, "alice")
	registry.Join(c.connID, "doc1", 1, "alice")

	// 缺 entityId/fieldId 的编辑同样丢弃
	c.handleFieldUpdate(ClientMessage{Type: "field-update", Value: "x"})

	if got := drain(c); len(got) != 0 {
		t.Fatalf("malformed update produced %v, want silence", got)
	}
}

// 不走真实 WebSocket 的端到端：编辑入口 -> 合并 -> 提交 -> 广播/确认回投
func TestConn_FieldUpdateRoundTrip(t *testing.T) {
	registry := room.NewRegistry()
	h := NewHub(registry, nil)
	g := &stubGateway{}
	coalescer := collab.NewCoalescer(g, collab.NewResolver(h, nil), registry, collab.CoalescerOptions{
		Debounce:      10 * time.Millisecond,
		CommitTimeout: time.Second,
	})

	c1 := NewConn(nil, h, 1, "alice", coalescer, nil, 0)
	c2 := NewConn(nil, h, 2, "bob", coalescer, nil, 0)
	h.Register(c1)
	h.Register(c2)
	registry.Join(c1.connID, "doc1", 1, "alice")
	registry.Join(c2.connID, "doc1", 2, "bob")

	c1.handleFieldUpdate(ClientMessage{
		Type: "field-update", EntityID: "b1", FieldID: "prompt",
		Value: "Hello", Timestamp: 1, OperationID: "op1",
	})

	deadline := time.Now().Add(2 * time.Second)
	var got1, got2 []OutboundMessage
	for time.Now().Before(deadline) {
		got1 = append(got1, drain(c1)...)
		got2 = append(got2, drain(c2)...)
		if len(got1) > 0 && len(got2) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	g.mu.Lock()
	if g.commits != 1 || g.last != "Hello" {
		t.Fatalf("commits=%d last=%v, want one commit of Hello", g.commits, g.last)
	}
	g.mu.Unlock()

	// 发起方只收确认，不收自己的回声
	if len(got1) != 1 {
		t.Fatalf("c1 received %d messages, want 1 confirmation", len(got1))
	}
	conf, ok := got1[0].(OperationConfirmedMessage)
	if !ok || conf.OperationID != "op1" {
		t.Fatalf("c1 got %+v, want op1 confirmed", got1[0])
	}

	// 房间内其他成员收一次广播
	if len(got2) != 1 {
		t.Fatalf("c2 received %d messages, want 1 broadcast", len(got2))
	}
	upd, ok := got2[0].(FieldUpdateMessage)
	if !ok || upd.EntityID != "b1" || upd.FieldID != "prompt" || upd.Value != "Hello" {
		t.Fatalf("c2 got %+v, want field-update b1.prompt=Hello", got2[0])
	}
}
