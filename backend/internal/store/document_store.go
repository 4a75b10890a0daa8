package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"syncServer/backend/internal/collab"
)

// 文档/块的常规读写，供 REST 层与测试使用（同步热路径只走 FieldStore）。
type DocumentStore struct {
	db *gorm.DB
}

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error) {
	doc := Document{ID: newID(), OwnerID: ownerID, Title: title}
	err := s.db.WithContext(ctx).Create(&doc).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		// 1062: duplicate entry，主键撞车重试一次即可
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			doc.ID = newID()
			err = s.db.WithContext(ctx).Create(&doc).Error
		}
	}
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (s *DocumentStore) GetDocument(ctx context.Context, docID string) (Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).First(&doc, "id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, collab.ErrDocumentNotFound
	}
	return doc, err
}

// DocumentExists：入房前的文档存在性检查。
func (s *DocumentStore) DocumentExists(ctx context.Context, docID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).Count(&count).Error
	return count > 0, err
}

func (s *DocumentStore) DeleteDocument(ctx context.Context, docID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).Delete(&Block{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Document{}, "id = ?", docID).Error
	})
}

func (s *DocumentStore) CreateBlock(ctx context.Context, docID, kind string) (string, error) {
	exists, err := s.DocumentExists(ctx, docID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", collab.ErrDocumentNotFound
	}
	blk := Block{ID: newID(), DocumentID: docID, Kind: kind}
	if err := s.db.WithContext(ctx).Create(&blk).Error; err != nil {
		return "", err
	}
	return blk.ID, nil
}

func (s *DocumentStore) ListBlocks(ctx context.Context, docID string) ([]Block, error) {
	var blocks []Block
	err := s.db.WithContext(ctx).Where("document_id = ?", docID).Order("created_at").Find(&blocks).Error
	return blocks, err
}

func (s *DocumentStore) DeleteBlock(ctx context.Context, blockID string) error {
	return s.db.WithContext(ctx).Delete(&Block{}, "id = ?", blockID).Error
}

func newID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
