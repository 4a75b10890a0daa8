package collab

import "time"

// 提交成功后送入 Kafka 的字段落库事件（下游做审计/索引，不参与同步语义）
type FieldCommitEvent struct {
	EventType string `json:"eventType"` // 固定 "FIELD_COMMITTED"
	DocID     string `json:"docId"`
	EntityID  string `json:"entityId"`
	FieldID   string `json:"fieldId"`
	Value     any    `json:"value"`
	// 被这次合并吸收的全部 operationId（未携带 id 的编辑不在其中）
	OperationIDs []string  `json:"operationIds,omitempty"`
	ClientTS     int64     `json:"clientTimestamp"`
	CommittedAt  time.Time `json:"committedAt"`
}
