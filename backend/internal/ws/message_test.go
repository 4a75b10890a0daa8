package ws

import (
	"encoding/json"
	"strings"
	"testing"
)

// 线格式按小驼峰约定，前端按这些键名收发
func TestClientMessage_FieldUpdateWireFormat(t *testing.T) {
	raw := `{"type":"field-update","entityId":"b1","fieldId":"prompt","value":"Hello","timestamp":1700000000000,"operationId":"op1"}`
	var msg ClientMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if msg.Type != "field-update" || msg.EntityID != "b1" || msg.FieldID != "prompt" {
		t.Fatalf("decoded = %+v", msg)
	}
	if msg.Value != "Hello" || msg.Timestamp != 1700000000000 || msg.OperationID != "op1" {
		t.Fatalf("decoded = %+v", msg)
	}
}

func TestFieldUpdateMessage_BroadcastHasNoOperationID(t *testing.T) {
	b, err := json.Marshal(FieldUpdateMessage{
		Type: "field-update", EntityID: "b1", FieldID: "prompt", Value: "v", Timestamp: 1,
	})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	s := string(b)
	// 广播不带 operationId，贡献者只通过 confirmed 对账
	if strings.Contains(s, "operationId") {
		t.Fatalf("broadcast payload leaks operationId: %s", s)
	}
	for _, key := range []string{`"entityId"`, `"fieldId"`, `"value"`, `"timestamp"`} {
		if !strings.Contains(s, key) {
			t.Fatalf("broadcast payload missing %s: %s", key, s)
		}
	}
}

func TestOperationFailedMessage_WireFormat(t *testing.T) {
	b, _ := json.Marshal(OperationFailedMessage{
		Type: "operation-failed", OperationID: "op1", Error: "ENTITY_NOT_FOUND", Retryable: false,
	})
	s := string(b)
	// retryable=false 也要序列化出来，客户端靠它决定是否重提
	if !strings.Contains(s, `"retryable":false`) {
		t.Fatalf("payload = %s, want explicit retryable:false", s)
	}
}
