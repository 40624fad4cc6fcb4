package handlers

import (
	"net/http"

	"securechat/models"

	"github.com/gin-gonic/gin"
)

type ProfileRequest struct {
	Nickname    string `json:"nickname" binding:"max=60"`
	Signature   string `json:"signature" binding:"max=255"`
	AvatarColor string `json:"avatar_color" binding:"max=16"`
}

// GetProfile returns the caller's profile, or another user's with
// ?username=.
func (h *ChatHandlers) GetProfile(c *gin.Context) {
	username := c.DefaultQuery("username", currentUser(c))
	profile, err := h.gw.Auth().Identity().Profile(c.Request.Context(), username)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "username": username, "profile": profile})
}

func (h *ChatHandlers) UpdateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid profile")
		return
	}
	profile := models.Profile{
		Nickname:    req.Nickname,
		Signature:   req.Signature,
		AvatarColor: req.AvatarColor,
	}
	if profile.Nickname == "" {
		profile.Nickname = currentUser(c)
	}
	if err := h.gw.Auth().Identity().UpdateProfile(c.Request.Context(), currentUser(c), profile); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "msg": "profile updated"})
}
