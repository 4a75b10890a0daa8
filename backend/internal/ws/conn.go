package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"syncServer/backend/internal/collab"
)

// 入房前的文档存在性检查（由 store.DocumentStore 提供）
type DocumentChecker interface {
	DocumentExists(ctx context.Context, docID string) (bool, error)
}

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	connID   string
	userID   uint64
	username string
	// 出站消息队列；写循环持续消费。
	// 通道永不 close：在途 flush 的 resolve 回调可能在连接断开后仍入队，
	// 向已关闭通道发送会 panic，所以写循环的退出用 done 信号而不是关通道。
	send      chan OutboundMessage
	done      chan struct{}
	closeOnce sync.Once

	coalescer   *collab.Coalescer
	docs        DocumentChecker
	presenceTTL time.Duration
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, username string, coalescer *collab.Coalescer, docs DocumentChecker, presenceTTL time.Duration) *Conn {
	return &Conn{
		ws:          ws,
		hub:         hub,
		connID:      newConnID(),
		userID:      userID,
		username:    username,
		send:        make(chan OutboundMessage, 32),
		done:        make(chan struct{}),
		coalescer:   coalescer,
		docs:        docs,
		presenceTTL: presenceTTL,
	}
}

func (c *Conn) ConnID() string { return c.connID }

func newConnID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
		// 队列满了则丢弃，慢连接不拖垮广播
	}
}

// Close 通知写循环退出。断开后的入队（如迟到的 resolve 投递）
// 最多把消息留在无人消费的缓冲里，随连接一起被回收。
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%d, conn=%s): %v", c.userID, c.connID, err)
			return
		}
		switch msg.Type {
		case "joinDocument":
			c.handleJoin(ctx, msg)

		case "leaveDocument":
			c.handleLeave(ctx)

		case "heartbeat":
			c.handleHeartbeat(ctx)

		case "field-update":
			c.handleFieldUpdate(msg)

		default:
			c.SendMessage_Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if msg.DocID == "" {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "MISSING_DOC_ID"})
		return
	}
	exists, err := c.docs.DocumentExists(ctx, msg.DocID)
	if err != nil {
		log.Printf("document exists check error (doc=%s): %v", msg.DocID, err)
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "JOIN_DOC_FAILED"})
		return
	}
	if !exists {
		c.SendMessage_Enqueue(ServerMessage{Type: "joinDocument", DocID: msg.DocID, Content: "Document " + msg.DocID + " not found"})
		return
	}

	// 已在其他房间时 registry 会先离开旧房间
	if old, ok := c.hub.registry.RoomOf(c.connID); ok && old != msg.DocID {
		c.removePresence(ctx, old)
	}
	c.hub.registry.Join(c.connID, msg.DocID, c.userID, c.username)
	if err := c.hub.presence.AddMember(ctx, msg.DocID, c.userID, c.username, c.presenceTTL); err != nil {
		log.Printf("add member error: %v", err)
	}
	c.SendMessage_Enqueue(ServerMessage{Type: "joinDocument", DocID: msg.DocID, Content: "joined"})
}

func (c *Conn) handleLeave(ctx context.Context) {
	docID, ok := c.hub.registry.Leave(c.connID)
	if !ok {
		return
	}
	c.removePresence(ctx, docID)
	c.SendMessage_Enqueue(ServerMessage{Type: "leaveDocument", DocID: docID, Content: "left"})
}

func (c *Conn) handleHeartbeat(ctx context.Context) {
	docID, ok := c.hub.registry.RoomOf(c.connID)
	if !ok {
		c.SendMessage_Enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})
		return
	}
	c.hub.registry.Touch(c.connID)
	// 心跳顺带刷新 Redis 在线 TTL
	if err := c.hub.presence.AddMember(ctx, docID, c.userID, c.username, c.presenceTTL); err != nil {
		log.Printf("add member error: %v", err)
	}

	members, err := c.hub.presence.GetAliveMembersWithNames(ctx, docID)
	if err != nil {
		log.Printf("get alive members error: %v", err)
	}
	out := make([]PresenceMember, len(members))
	for i, m := range members {
		out[i] = PresenceMember{UserID: m.UserID, Username: m.Username}
	}
	c.SendMessage_Enqueue(ServerMessage{Type: "presence", DocID: docID, Members: out})
	c.SendMessage_Enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})
}

// handleFieldUpdate：编辑事件入口。
// 未绑定房间的连接直接丢弃（导航竞态的迟到消息，不回错误）；
// 其余意外异常只通知发起连接（此刻可能还没有 PendingWrite 承载贡献者记账）。
func (c *Conn) handleFieldUpdate(msg ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("field update panic (conn=%s entity=%s field=%s): %v", c.connID, msg.EntityID, msg.FieldID, r)
			c.SendMessage_Enqueue(OperationErrorMessage{
				Type:      "operation-error",
				Message:   "internal error, please retry",
				Operation: "field-update",
				Target:    msg.EntityID + "." + msg.FieldID,
			})
		}
	}()

	docID, ok := c.hub.registry.RoomOf(c.connID)
	if !ok {
		log.Printf("drop field update from unbound conn=%s user=%d entity=%s field=%s", c.connID, c.userID, msg.EntityID, msg.FieldID)
		return
	}
	if msg.EntityID == "" || msg.FieldID == "" {
		log.Printf("drop malformed field update conn=%s doc=%s", c.connID, docID)
		return
	}

	c.hub.registry.Touch(c.connID)
	key := collab.FieldKey{DocID: docID, EntityID: msg.EntityID, FieldID: msg.FieldID}
	c.coalescer.Submit(key, msg.Value, msg.Timestamp, msg.OperationID, c.connID)
}

func (c *Conn) removePresence(ctx context.Context, docID string) {
	if err := c.hub.presence.RemoveMember(ctx, docID, c.userID); err != nil {
		log.Printf("remove member error: %v", err)
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的出站消息，直到 Close 发出退出信号
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.WriteJSON(msg)
		case <-c.done:
			return
		}
	}
}
