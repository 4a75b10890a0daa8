package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/store"
)

// 文档/块的 REST 入口。实时编辑走 WebSocket，这里只覆盖编辑器打开前的准备动作。
type DocumentHandlers struct {
	docs *store.DocumentStore
}

func NewDocumentHandlers(docs *store.DocumentStore) *DocumentHandlers {
	return &DocumentHandlers{docs: docs}
}

type createDocumentReq struct {
	Title string `json:"title"`
}

func (h *DocumentHandlers) CreateDocument(c *gin.Context) {
	// 从gin.Context获取用户信息（鉴权中间件写入）
	userID, exists := c.Get("userId")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return
	}
	ownerID, ok := userID.(uint64)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user ID format"})
		return
	}

	var req createDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	docID, err := h.docs.CreateDocument(c.Request.Context(), ownerID, req.Title)
	if err != nil {
		log.Printf("create document error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CREATE_DOC_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "ownerId": ownerID, "title": req.Title})
}

func (h *DocumentHandlers) GetDocument(c *gin.Context) {
	docID := c.Param("documentID")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Document ID missing"})
		return
	}
	doc, err := h.docs.GetDocument(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, collab.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "DOCUMENT_NOT_FOUND"})
			return
		}
		log.Printf("get document error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "GET_DOC_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": doc.ID, "ownerId": doc.OwnerID, "title": doc.Title})
}

type createBlockReq struct {
	Kind string `json:"kind"`
}

func (h *DocumentHandlers) CreateBlock(c *gin.Context) {
	docID := c.Param("documentID")
	var req createBlockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	blockID, err := h.docs.CreateBlock(c.Request.Context(), docID, req.Kind)
	if err != nil {
		if errors.Is(err, collab.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "DOCUMENT_NOT_FOUND"})
			return
		}
		log.Printf("create block error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CREATE_BLOCK_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blockId": blockID, "docId": docID, "kind": req.Kind})
}

func (h *DocumentHandlers) ListBlocks(c *gin.Context) {
	docID := c.Param("documentID")
	blocks, err := h.docs.ListBlocks(c.Request.Context(), docID)
	if err != nil {
		log.Printf("list blocks error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "LIST_BLOCKS_FAILED"})
		return
	}

	out := make([]gin.H, 0, len(blocks))
	for _, b := range blocks {
		fields := map[string]store.FieldValue{}
		if len(b.Fields) > 0 {
			if err := json.Unmarshal(b.Fields, &fields); err != nil {
				log.Printf("decode block fields error (block=%s): %v", b.ID, err)
			}
		}
		out = append(out, gin.H{"blockId": b.ID, "kind": b.Kind, "fields": fields})
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "blocks": out})
}
