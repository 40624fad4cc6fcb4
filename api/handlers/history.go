package handlers

import (
	"net/http"
	"strconv"

	"securechat/services"

	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 500

// GetHistory serves incremental sync: the messages of the conversation with
// :target whose seq is greater than ?since.
func (h *ChatHandlers) GetHistory(c *gin.Context) {
	user := currentUser(c)
	target := c.Param("target")

	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil || since < 0 {
		badRequest(c, "invalid since")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.gw.PageSize())))
	if err != nil || limit <= 0 {
		badRequest(c, "invalid limit")
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ok, err := h.gw.Friends().AreFriends(c.Request.Context(), user, target)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		h.fail(c, services.ErrNotFriends)
		return
	}

	room := services.ConversationID(user, target)
	messages, err := h.gw.Log().History(c.Request.Context(), room, since, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"room":     room,
		"messages": services.HistoryItems(messages),
		"has_more": len(messages) == limit,
	})
}
