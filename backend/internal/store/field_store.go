package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"syncServer/backend/internal/collab"
)

// FieldStore：collab.Gateway 的 MySQL 实现。
// 一次提交 = 一个事务：校验父文档存在 -> FOR UPDATE 重读块行 -> 合并字段映射 -> 落库。
// 行锁保证同一块的两个不同字段被两个计时器并发 flush 时按序合并。
type FieldStore struct {
	db *gorm.DB
}

func NewFieldStore(db *gorm.DB) *FieldStore {
	return &FieldStore{db: db}
}

func (s *FieldStore) CommitField(ctx context.Context, docID, entityID, fieldID string, value any, clientTS int64) (int64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 父文档可能在去抖窗口内被整个删除；这种情况不可重试
		var count int64
		if err := tx.Model(&Document{}).Where("id = ?", docID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("document %s: %w", docID, collab.ErrDocumentNotFound)
		}

		var blk Block
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND document_id = ?", entityID, docID).
			First(&blk).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("entity %s: %w", entityID, collab.ErrEntityNotFound)
			}
			return err
		}

		merged, err := mergeField(blk.Fields, fieldID, value)
		if err != nil {
			return err
		}
		return tx.Model(&Block{}).Where("id = ?", entityID).
			Update("fields", merged).Error
	})
	if err != nil {
		return 0, err
	}
	return time.Now().UnixMilli(), nil
}

// mergeField 把一个字段值并入块的字段映射：
// - 未知 fieldId：按值的 JSON 形态推断 type，插入最小默认形状
// - 已知 fieldId：只替换 value，保留既有 type
func mergeField(raw []byte, fieldID string, value any) ([]byte, error) {
	fields := make(map[string]FieldValue)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode field map: %w", err)
		}
	}

	vb, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode field value: %w", err)
	}

	fv, ok := fields[fieldID]
	if !ok {
		fv = FieldValue{Type: inferFieldType(value)}
	}
	fv.Value = vb
	fields[fieldID] = fv

	return json.Marshal(fields)
}

func inferFieldType(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case float64, float32, int, int64, uint64, json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return "json"
	}
}
