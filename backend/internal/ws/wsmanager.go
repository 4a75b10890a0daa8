package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"syncServer/backend/internal/collab"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	hub         *Hub
	coalescer   *collab.Coalescer
	docs        DocumentChecker
	presenceTTL time.Duration
}

func NewManager(hub *Hub, coalescer *collab.Coalescer, docs DocumentChecker, presenceTTL time.Duration) *Manager {
	return &Manager{hub: hub, coalescer: coalescer, docs: docs, presenceTTL: presenceTTL}
}

// WebSocketConnect：升级连接并进入读循环（阻塞至连接关闭）。
// 身份由鉴权中间件提前写入 gin.Context。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, userID, username, m.coalescer, m.docs, m.presenceTTL)
	m.hub.Register(wsConn)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.SendMessage_Enqueue(ServerMessage{Type: "welcome", Content: "connected"})

	wsConn.readLoop(c.Request.Context())

	// 读循环退出即连接关闭：先摘除连接（之后的广播查不到它），
	// 再停写循环。顺序反过来也不会出事，但先摘除能少丢几条死信。
	if docID, ok := m.hub.registry.RoomOf(wsConn.connID); ok {
		wsConn.removePresence(context.Background(), docID)
	}
	m.hub.Unregister(wsConn)
	wsConn.Close()
}
