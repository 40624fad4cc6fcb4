package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Status    string    `json:"status"`
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *ChatHandlers) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username and password are required")
		return
	}
	if err := h.gw.Auth().Register(c.Request.Context(), req.Username, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "msg": "registered"})
}

func (h *ChatHandlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username and password are required")
		return
	}
	sess, err := h.gw.Auth().Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookie, sess.Token, maxAge, "/", "", false, true)
	c.JSON(http.StatusOK, LoginResponse{
		Status:    "ok",
		Token:     sess.Token,
		Username:  sess.Username,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *ChatHandlers) Logout(c *gin.Context) {
	if err := h.gw.Logout(c.Request.Context(), c.GetString(ContextTokenKey)); err != nil {
		h.fail(c, err)
		return
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "msg": "logged out"})
}
