package handlers

import (
	"net/http"

	"securechat/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ContextUserKey is where the session middleware stores the username.
const (
	ContextUserKey  = "username"
	ContextTokenKey = "token"
	SessionCookie   = "session"
)

// ChatHandlers serves the HTTP API on top of a Gateway.
type ChatHandlers struct {
	gw       *services.Gateway
	logger   *zap.Logger
	upgrader websocket.Upgrader

	uploadDir     string
	maxUploadSize int64
}

func NewChatHandlers(gw *services.Gateway, logger *zap.Logger) *ChatHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandlers{
		gw:     gw,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WithUploads enables attachment uploads stored under dir.
func (h *ChatHandlers) WithUploads(dir string, maxSize int64) *ChatHandlers {
	h.uploadDir = dir
	h.maxUploadSize = maxSize
	return h
}

func (h *ChatHandlers) UploadDir() string {
	return h.uploadDir
}

func statusFor(err error) int {
	switch services.KindOf(err) {
	case services.KindAuthentication:
		return http.StatusUnauthorized
	case services.KindAuthorization:
		return http.StatusForbidden
	case services.KindConflict:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err in the common error shape. Internal errors are logged and
// hidden from the client.
func (h *ChatHandlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("user", c.GetString(ContextUserKey)),
			zap.Error(err))
	}
	code, msg := services.Public(err)
	c.JSON(status, gin.H{"status": "error", "code": code, "msg": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "code": "bad_request", "msg": msg})
}

func currentUser(c *gin.Context) string {
	return c.GetString(ContextUserKey)
}
