package ws

import (
	"sync"

	"syncServer/backend/internal/cache"
	"syncServer/backend/internal/room"
)

// Hub：连接与房间的内存中枢。
// - registry 是房间成员关系的权威来源（connID 维度）
// - presence 只是跨实例共享的在线视图（Redis），不参与成员校验
// - conns 维护 connID -> *Conn，resolve 结果按 connID 投递
type Hub struct {
	registry *room.Registry
	presence cache.PresenceCache

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub(registry *room.Registry, presence cache.PresenceCache) *Hub {
	return &Hub{
		registry: registry,
		presence: presence,
		conns:    make(map[string]*Conn),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.connID] = c
}

// Unregister 摘除连接并解除房间绑定（读循环退出时调用）。
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.connID)
	h.mu.Unlock()
	h.registry.Leave(c.connID)
}

func (h *Hub) connByID(connID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

// BroadcastFieldUpdate 把已落库的字段值发给 members 中除 exclude 外的连接。
// 已断开的成员在 connByID 处自然跳过。
func (h *Hub) BroadcastFieldUpdate(docID, entityID, fieldID string, value any, serverTS int64, members []string, exclude map[string]struct{}) {
	msg := FieldUpdateMessage{
		Type:      "field-update",
		EntityID:  entityID,
		FieldID:   fieldID,
		Value:     value,
		Timestamp: serverTS,
	}
	for _, connID := range members {
		if _, skip := exclude[connID]; skip {
			continue
		}
		if c, ok := h.connByID(connID); ok {
			c.SendMessage_Enqueue(msg)
		}
	}
}

func (h *Hub) ConfirmOperation(connID, operationID string, serverTS int64) {
	if c, ok := h.connByID(connID); ok {
		c.SendMessage_Enqueue(OperationConfirmedMessage{
			Type:            "operation-confirmed",
			OperationID:     operationID,
			ServerTimestamp: serverTS,
		})
	}
}

func (h *Hub) FailOperation(connID, operationID, reason string, retryable bool) {
	if c, ok := h.connByID(connID); ok {
		c.SendMessage_Enqueue(OperationFailedMessage{
			Type:        "operation-failed",
			OperationID: operationID,
			Error:       reason,
			Retryable:   retryable,
		})
	}
}

func (h *Hub) NotifyOperationError(connID, message, operation, target string) {
	if c, ok := h.connByID(connID); ok {
		c.SendMessage_Enqueue(OperationErrorMessage{
			Type:      "operation-error",
			Message:   message,
			Operation: operation,
			Target:    target,
		})
	}
}
