package store

import (
	"encoding/json"
	"time"
)

// 工作流文档（房间的持久侧）
type Document struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	OwnerID   uint64 `gorm:"index"`
	Title     string `gorm:"type:varchar(255)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Document) TableName() string { return "documents" }

// 文档内的块（同步引擎眼中的"实体"）。
// Fields 是 fieldId -> {type, value} 的 JSON 映射，引擎只做键级合并，不理解业务含义。
type Block struct {
	ID         string `gorm:"type:varchar(64);primaryKey"`
	DocumentID string `gorm:"type:varchar(64);index;not null"`
	Kind       string `gorm:"type:varchar(64)"`
	Fields     []byte `gorm:"type:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Block) TableName() string { return "document_blocks" }

// 字段映射里单个槽位的持久形态
type FieldValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}
