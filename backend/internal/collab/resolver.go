package collab

import (
	"context"
	"log"
	"time"
)

// Sink：resolve 结果的出口，由 ws.Hub 实现。
// 回声抑制是广播调用的一等参数（exclude），而不是事后过滤，
// 避免贡献者断开重连后被误发一份自己已持有的值。
type Sink interface {
	// 向 members 中除 exclude 外的连接广播字段新值
	BroadcastFieldUpdate(docID, entityID, fieldID string, value any, serverTS int64, members []string, exclude map[string]struct{})
	// 逐贡献者的提交确认
	ConfirmOperation(connID, operationID string, serverTS int64)
	// 逐贡献者的提交失败（retryable 指示客户端是否可以重新提交）
	FailOperation(connID, operationID, reason string, retryable bool)
	// 旧版连接级错误通知，兼容不跟踪 operationId 的客户端
	NotifyOperationError(connID, message, operation, target string)
}

// Resolver：把一次提交的结果分发给房间成员并清偿每个贡献者的"欠账"。
// 每个曾经贡献过的 operationId 恰好收到一次终态，失败绝不静默吞掉。
type Resolver struct {
	sink Sink
	// 可选：提交成功后把事件送入 Kafka 轨迹（nil 表示关闭）
	dispatcher *Dispatcher
}

func NewResolver(sink Sink, dispatcher *Dispatcher) *Resolver {
	return &Resolver{sink: sink, dispatcher: dispatcher}
}

func (r *Resolver) Resolve(pw *PendingWrite, serverTS int64, commitErr error, members []string) {
	if commitErr == nil {
		r.resolveSuccess(pw, serverTS, members)
		return
	}
	r.resolveFailure(pw, commitErr)
}

func (r *Resolver) resolveSuccess(pw *PendingWrite, serverTS int64, members []string) {
	key := pw.Key
	// 贡献者本地已乐观持有该值，重发会乱序覆盖其在途的更新编辑
	r.sink.BroadcastFieldUpdate(key.DocID, key.EntityID, key.FieldID, pw.Value, serverTS, members, pw.Origins)
	for operationID, connID := range pw.Contributors {
		r.sink.ConfirmOperation(connID, operationID, serverTS)
	}

	if r.dispatcher != nil {
		evt := FieldCommitEvent{
			EventType:    "FIELD_COMMITTED",
			DocID:        key.DocID,
			EntityID:     key.EntityID,
			FieldID:      key.FieldID,
			Value:        pw.Value,
			OperationIDs: operationIDs(pw),
			ClientTS:     pw.ClientTS,
			CommittedAt:  time.Now(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		if err := r.dispatcher.Enqueue(ctx, evt); err != nil {
			// 事件轨迹是尽力而为，不回压提交链路
			log.Printf("field commit event dropped doc=%s entity=%s field=%s err=%v",
				key.DocID, key.EntityID, key.FieldID, err)
		}
		cancel()
	}
}

func (r *Resolver) resolveFailure(pw *PendingWrite, commitErr error) {
	key := pw.Key
	retryable := !IsPermanent(commitErr)
	for operationID, connID := range pw.Contributors {
		r.sink.FailOperation(connID, operationID, commitErr.Error(), retryable)
	}
	// 旧版客户端的连接级通知
	for connID := range pw.Origins {
		r.sink.NotifyOperationError(connID, commitErr.Error(), "field-update", key.EntityID+"."+key.FieldID)
	}
	log.Printf("field commit failed doc=%s entity=%s field=%s retryable=%v err=%v",
		key.DocID, key.EntityID, key.FieldID, retryable, commitErr)
}

func operationIDs(pw *PendingWrite) []string {
	if len(pw.Contributors) == 0 {
		return nil
	}
	ids := make([]string, 0, len(pw.Contributors))
	for id := range pw.Contributors {
		ids = append(ids, id)
	}
	return ids
}
