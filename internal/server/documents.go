package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mbellotti/testyard/internal/models"
)

// maxDocumentBytes caps uploaded requirement documents.
const maxDocumentBytes = 5 << 20

// GenerateDocumentID creates a unique document ID in doc-xxxxxxxx format (8-char hex).
func GenerateDocumentID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("server: generate document ID: %w", err)
	}
	return "doc-" + hex.EncodeToString(b), nil
}

// handleUploadDocument accepts a multipart file upload and stores it for
// later analysis via POST /sessions with document_id.
func (s *Server) handleUploadDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	if file.Size > maxDocumentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document too large"})
		return
	}

	id, err := GenerateDocumentID()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Stored under our own name; the original name survives in the record.
	dest := filepath.Join(s.uploadDir, id+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, dest); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	doc := models.Document{
		ID:          id,
		Name:        filepath.Base(file.Filename),
		ContentType: file.Header.Get("Content-Type"),
		SizeBytes:   file.Size,
		Path:        dest,
		SessionID:   c.PostForm("session_id"),
	}
	if err := s.db.Create(&doc).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(c *gin.Context) {
	var doc models.Document
	if err := s.db.First(&doc, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}
