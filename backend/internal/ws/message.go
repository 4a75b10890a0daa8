package ws

// 入站消息通过 type 字段分发（命名事件风格）。
// field-update 之外的字段只在对应类型下有意义。
type ClientMessage struct {
	Type  string `json:"type"`
	DocID string `json:"docId,omitempty"` // joinDocument 用

	// field-update：实体/字段定位 + 新值
	EntityID  string `json:"entityId,omitempty"`
	FieldID   string `json:"fieldId,omitempty"`
	Value     any    `json:"value,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	// 客户端侧操作标识，可选；携带时服务端保证恰好回一条 confirmed/failed
	OperationID string `json:"operationId,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string             { return m.Type }
func (m FieldUpdateMessage) MessageType() string        { return m.Type }
func (m OperationConfirmedMessage) MessageType() string { return m.Type }
func (m OperationFailedMessage) MessageType() string    { return m.Type }
func (m OperationErrorMessage) MessageType() string     { return m.Type }

type PresenceMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username,omitempty"`
}

// 通用服务端消息：welcome / feedback / joinDocument ack / presence / ignored
type ServerMessage struct {
	Type    string           `json:"type"`
	DocID   string           `json:"docId,omitempty"`
	Members []PresenceMember `json:"members,omitempty"`
	Content string           `json:"content,omitempty"`
}

// 广播给房间内其他连接的已落库字段值。
// 不携带 operationId：贡献者不会收到这条（回声抑制），只收到各自的 confirmed。
type FieldUpdateMessage struct {
	Type      string `json:"type"` // 固定 "field-update"
	EntityID  string `json:"entityId"`
	FieldID   string `json:"fieldId"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"` // 服务端提交时间戳（毫秒）
}

// 逐操作的提交确认
type OperationConfirmedMessage struct {
	Type            string `json:"type"` // 固定 "operation-confirmed"
	OperationID     string `json:"operationId"`
	ServerTimestamp int64  `json:"serverTimestamp"`
}

// 逐操作的提交失败；Retryable=false 表示文档/实体已删除之类的永久失败
type OperationFailedMessage struct {
	Type        string `json:"type"` // 固定 "operation-failed"
	OperationID string `json:"operationId"`
	Error       string `json:"error"`
	Retryable   bool   `json:"retryable"`
}

// 旧版连接级错误通知，兼容不跟踪 operationId 的客户端
type OperationErrorMessage struct {
	Type      string `json:"type"` // 固定 "operation-error"
	Message   string `json:"message"`
	Operation string `json:"operation"`
	Target    string `json:"target"`
}
