package ws

import (
	"testing"
	"time"

	"syncServer/backend/internal/room"
)

// 不升级真实 WebSocket：只构造 Conn 并从 send 通道读出站消息
func newTestConn(h *Hub, userID uint64, username string) *Conn {
	c := NewConn(nil, h, userID, username, nil, nil, 0)
	h.Register(c)
	return c
}

func drain(c *Conn) []OutboundMessage {
	var out []OutboundMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_BroadcastFieldUpdateExcludesContributors(t *testing.T) {
	h := NewHub(room.NewRegistry(), nil)
	c1 := newTestConn(h, 1, "alice")
	c2 := newTestConn(h, 2, "bob")
	c3 := newTestConn(h, 3, "carol")

	members := []string{c1.connID, c2.connID, c3.connID}
	exclude := map[string]struct{}{c1.connID: {}, c2.connID: {}}
	h.BroadcastFieldUpdate("doc1", "b1", "prompt", "v", 100, members, exclude)

	if got := drain(c1); len(got) != 0 {
		t.Fatalf("contributor c1 received %v, want nothing", got)
	}
	if got := drain(c2); len(got) != 0 {
		t.Fatalf("contributor c2 received %v, want nothing", got)
	}
	got := drain(c3)
	if len(got) != 1 {
		t.Fatalf("c3 received %d messages, want 1", len(got))
	}
	msg, ok := got[0].(FieldUpdateMessage)
	if !ok || msg.Type != "field-update" || msg.Value != "v" || msg.Timestamp != 100 {
		t.Fatalf("c3 got %+v, want field-update v@100", got[0])
	}
}

func TestHub_BroadcastSkipsDepartedMember(t *testing.T) {
	h := NewHub(room.NewRegistry(), nil)
	c1 := newTestConn(h, 1, "alice")
	c2 := newTestConn(h, 2, "bob")

	members := []string{c1.connID, c2.connID}
	h.Unregister(c2)
	// 已摘除的连接在投递时自然跳过，不 panic 不误发
	h.BroadcastFieldUpdate("doc1", "b1", "prompt", "v", 1, members, nil)

	if got := drain(c1); len(got) != 1 {
		t.Fatalf("c1 received %d messages, want 1", len(got))
	}
}

func TestHub_OperationResolutionRouting(t *testing.T) {
	h := NewHub(room.NewRegistry(), nil)
	c1 := newTestConn(h, 1, "alice")
	c2 := newTestConn(h, 2, "bob")

	h.ConfirmOperation(c1.connID, "op1", 123)
	h.FailOperation(c2.connID, "op2", "ENTITY_NOT_FOUND", false)
	h.NotifyOperationError(c2.connID, "ENTITY_NOT_FOUND", "field-update", "b1.prompt")

	got1 := drain(c1)
	if len(got1) != 1 {
		t.Fatalf("c1 received %d messages, want 1", len(got1))
	}
	conf, ok := got1[0].(OperationConfirmedMessage)
	if !ok || conf.OperationID != "op1" || conf.ServerTimestamp != 123 {
		t.Fatalf("c1 got %+v, want op1 confirmed @123", got1[0])
	}

	got2 := drain(c2)
	if len(got2) != 2 {
		t.Fatalf("c2 received %d messages, want fail + legacy", len(got2))
	}
	fail, ok := got2[0].(OperationFailedMessage)
	if !ok || fail.OperationID != "op2" || fail.Retryable {
		t.Fatalf("c2 got %+v, want op2 non-retryable failure", got2[0])
	}
	if _, ok := got2[1].(OperationErrorMessage); !ok {
		t.Fatalf("c2 got %+v, want legacy operation-error", got2[1])
	}
}

// 断开与在途提交的 resolve 竞争：连接已停止写循环但尚未从 hub 摘除时，
// 终态投递与广播都不得 panic（send 通道永不 close，入队只会落在缓冲里）。
func TestHub_ResolutionRacingDisconnectDoesNotPanic(t *testing.T) {
	h := NewHub(room.NewRegistry(), nil)
	c1 := newTestConn(h, 1, "alice")
	c2 := newTestConn(h, 2, "bob")

	c1.Close()

	h.ConfirmOperation(c1.connID, "op1", 100)
	h.BroadcastFieldUpdate("doc1", "b1", "prompt", "v", 100, []string{c1.connID, c2.connID}, nil)

	// 摘除之后的迟到投递同样安全
	h.Unregister(c1)
	c1.Close()
	h.ConfirmOperation(c1.connID, "op1", 100)

	if got := drain(c2); len(got) != 1 {
		t.Fatalf("c2 received %d messages, want 1", len(got))
	}
}

func TestConn_CloseStopsWriteLoop(t *testing.T) {
	h := NewHub(room.NewRegistry(), nil)
	c := newTestConn(h, 1, "alice")

	stopped := make(chan struct{})
	go func() {
		c.writeLoop()
		close(stopped)
	}()

	c.Close()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("write loop did not exit after Close")
	}
}

func TestHub_ResolutionToUnknownConnIsNoop(t *testing.T) {
	h := NewHub(room.NewRegistry(), nil)
	// 贡献者断开后的终态投递：静默丢弃
	h.ConfirmOperation("ghost", "op1", 1)
	h.FailOperation("ghost", "op2", "x", true)
	h.NotifyOperationError("ghost", "x", "field-update", "b1.prompt")
}
