package collab

import (
	"context"
	"errors"
)

// 持久化网关契约：把一次合并后的字段写入落库。
// 返回服务端时间戳（毫秒）。实现方必须：
// - 校验父文档仍然存在，不存在返回 ErrDocumentNotFound（永久失败）
// - 在事务内重读实体行，不存在返回 ErrEntityNotFound（永久失败）
// - 对同一实体的并发提交由实现方的事务隔离串行化
type Gateway interface {
	CommitField(ctx context.Context, docID, entityID, fieldID string, value any, clientTS int64) (int64, error)
}

var (
	// 父文档已被删除，不可重试
	ErrDocumentNotFound = errors.New("DOCUMENT_NOT_FOUND")
	// 实体（块）已被删除，不可重试
	ErrEntityNotFound = errors.New("ENTITY_NOT_FOUND")
)

// IsPermanent 区分提交失败的类别：
// 永久失败（文档/实体已删除）通知客户端不要重试；其余（超时、连接、事务错误）可重试。
func IsPermanent(err error) bool {
	return errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrEntityNotFound)
}
