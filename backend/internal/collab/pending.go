package collab

import "time"

// FieldKey：合并去抖的原子单位——某文档内某实体的一个字段槽。
// 不同 FieldKey 之间互不阻塞，也不提供跨键原子性。
type FieldKey struct {
	DocID    string
	EntityID string
	FieldID  string
}

type pendingState int

const (
	// 去抖窗口内，计时器已武装；新编辑到达时覆盖值并重置计时器
	stateBuffering pendingState = iota
	// 提交进行中；一旦进入不可打断，期间到达的编辑进入 next 槽
	stateFlushing
)

// PendingWrite：每个 FieldKey 同一时刻最多一个存活实例。
// 首次编辑创建，窗口内的后续编辑覆盖 value/clientTS 并追加贡献者，
// 计时器触发后整个对象被提交并在 resolve 完成后从注册表移除。
type PendingWrite struct {
	Key      FieldKey
	Value    any
	ClientTS int64

	// operationId -> 来源连接ID。每个 operationId 恰好收到一次终态（confirmed/failed）。
	Contributors map[string]string
	// 贡献过编辑的连接集合，用于回声抑制（含未携带 operationId 的编辑）。
	Origins map[string]struct{}

	state pendingState
	timer *time.Timer
	// 提交进行中到达的编辑累积在这里，当前提交 resolve 后被提升为新的 PendingWrite
	next *PendingWrite
}

func newPendingWrite(key FieldKey, value any, clientTS int64, operationID, originConnID string) *PendingWrite {
	pw := &PendingWrite{
		Key:          key,
		Value:        value,
		ClientTS:     clientTS,
		Contributors: make(map[string]string),
		Origins:      make(map[string]struct{}),
		state:        stateBuffering,
	}
	pw.absorb(value, clientTS, operationID, originConnID)
	return pw
}

// absorb 吸收一次编辑：last-value-wins，贡献者只增不减。
func (pw *PendingWrite) absorb(value any, clientTS int64, operationID, originConnID string) {
	pw.Value = value
	pw.ClientTS = clientTS
	if operationID != "" {
		pw.Contributors[operationID] = originConnID
	}
	pw.Origins[originConnID] = struct{}{}
}
