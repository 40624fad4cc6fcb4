package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UploadURLPrefix is where stored attachments are served from.
const UploadURLPrefix = "/uploads"

var imageExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true, "gif": true}

var allowedExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true,
	"txt": true, "pdf": true, "doc": true, "docx": true, "zip": true, "rar": true,
}

type UploadResponse struct {
	Status   string `json:"status"`
	URL      string `json:"url"`
	MsgType  string `json:"msg_type"`
	FileName string `json:"file_name"`
}

// Upload stores a multipart "file" under a random name. The returned
// url, msg_type and file_name go into the send_message that shares it.
func (h *ChatHandlers) Upload(c *gin.Context) {
	if h.uploadDir == "" {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "code": "uploads_disabled", "msg": "uploads are disabled"})
		return
	}
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is missing or too large")
		return
	}

	name := filepath.Base(file.Filename)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !allowedExtensions[ext] {
		badRequest(c, "file type not allowed")
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.logger.Error("failed to create upload dir", zap.String("dir", h.uploadDir), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "code": "internal", "msg": "internal error"})
		return
	}
	stored := uuid.NewString() + "." + ext
	if err := c.SaveUploadedFile(file, filepath.Join(h.uploadDir, stored)); err != nil {
		h.logger.Error("failed to save upload", zap.String("user", currentUser(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "code": "internal", "msg": "internal error"})
		return
	}

	msgType := "file"
	if imageExtensions[ext] {
		msgType = "image"
	}
	c.JSON(http.StatusOK, UploadResponse{
		Status:   "ok",
		URL:      UploadURLPrefix + "/" + stored,
		MsgType:  msgType,
		FileName: name,
	})
}
