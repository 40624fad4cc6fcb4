package handlers

import (
	"net/http"
	"strings"

	"securechat/services"

	"github.com/gin-gonic/gin"
)

type FriendRequestBody struct {
	Target string `json:"target" binding:"required"`
}

type HandleRequestBody struct {
	ReqID  int64  `json:"req_id" binding:"required"`
	Action string `json:"action" binding:"required"`
}

func (h *ChatHandlers) GetFriends(c *gin.Context) {
	friends, err := h.gw.Friends().ListFriends(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if friends == nil {
		friends = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "friends": friends})
}

func (h *ChatHandlers) GetPendingRequests(c *gin.Context) {
	requests, err := h.gw.Friends().ListPending(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "requests": services.PendingItems(requests)})
}

func (h *ChatHandlers) CountPendingRequests(c *gin.Context) {
	count, err := h.gw.Friends().PendingCount(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pending": count})
}

func (h *ChatHandlers) SendFriendRequest(c *gin.Context) {
	var body FriendRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "target is required")
		return
	}
	req, err := h.gw.SubmitRequest(c.Request.Context(), currentUser(c), body.Target)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "msg": "friend request sent", "id": req.ID})
}

func (h *ChatHandlers) HandleFriendRequest(c *gin.Context) {
	var body HandleRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "req_id and action are required")
		return
	}
	decision := services.Decision(strings.ToLower(body.Action))
	req, err := h.gw.ResolveRequest(c.Request.Context(), body.ReqID, currentUser(c), decision)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "msg": "friend request " + string(req.Status)})
}
