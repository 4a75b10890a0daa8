package room

import (
	"sync"
	"time"
)

// Presence：某个连接在房间内的在线信息。
// 每次接受该连接的编辑时刷新 LastActivity，其余场景只读。
type Presence struct {
	UserID       uint64
	Username     string
	ConnID       string
	LastActivity time.Time
}

type binding struct {
	docID    string
	presence Presence
}

// Registry：内存版的 连接->房间 注册表。
// - 一个连接同一时刻最多绑定一个文档房间
// - 房间在第一个成员加入时创建，最后一个成员离开时销毁（空房间不是持久状态）
// - Registry 只引用连接ID，不持有连接本身（连接归 ws 层所有）
type Registry struct {
	mu sync.RWMutex
	// connID -> 绑定信息
	byConn map[string]*binding
	// docID -> set of connID
	// 房间里存的是连接而不是用户：一个用户可开多个标签页/设备，广播要逐连接发。
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*binding),
		rooms:  make(map[string]map[string]struct{}),
	}
}

// Join 将连接绑定到指定文档房间。
// 若该连接已绑定其他房间，先自动离开旧房间（对应前端切换文档的场景）。
func (r *Registry) Join(connID, docID string, userID uint64, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byConn[connID]; ok && b.docID != docID {
		r.removeLocked(connID, b.docID)
	}
	r.byConn[connID] = &binding{
		docID: docID,
		presence: Presence{
			UserID:       userID,
			Username:     username,
			ConnID:       connID,
			LastActivity: time.Now(),
		},
	}
	if r.rooms[docID] == nil {
		r.rooms[docID] = make(map[string]struct{})
	}
	r.rooms[docID][connID] = struct{}{}
}

// Leave 解除连接的房间绑定，返回其原先所在的文档。
// 未绑定的连接返回 ok=false（断线清理时可能重复调用，不是错误）。
func (r *Registry) Leave(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	r.removeLocked(connID, b.docID)
	return b.docID, true
}

func (r *Registry) removeLocked(connID, docID string) {
	if conns, ok := r.rooms[docID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, docID)
		}
	}
}

// RoomOf 返回连接当前绑定的文档。
// 编辑事件入口用它做成员校验：未绑定的连接直接丢弃（导航竞态产生的迟到消息）。
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	return b.docID, true
}

// MembersOf 返回房间内全部连接ID的快照。
func (r *Registry) MembersOf(docID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.rooms[docID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// PresenceOf 返回连接的在线信息快照。
func (r *Registry) PresenceOf(connID string) (Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[connID]
	if !ok {
		return Presence{}, false
	}
	return b.presence, true
}

// Touch 刷新连接的活跃时间（每次接受编辑/心跳时调用）。
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byConn[connID]; ok {
		b.presence.LastActivity = time.Now()
	}
}
