package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenFromRequest finds a session token in the Authorization header, the
// session cookie or the token query parameter, in that order.
func TokenFromRequest(c *gin.Context) string {
	token, _ := tokenWithSource(c)
	return token
}

// tokenWithSource also reports whether the token came from the cookie,
// which a browser attaches on its own.
func tokenWithSource(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), false
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return c.Query("token"), false
}

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests whose Origin host matches Host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// WSChatHandler upgrades to the chat protocol. A request without a valid
// token still gets a socket and must send an authenticate event. A cookie
// session is only honoured for same-origin pages.
func (h *ChatHandlers) WSChatHandler(c *gin.Context) {
	token, fromCookie := tokenWithSource(c)
	if fromCookie && !sameOrigin(c.Request) {
		h.logger.Warn("cross-origin websocket with session cookie",
			zap.String("origin", c.GetHeader("Origin")),
			zap.String("host", c.Request.Host))
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "code": "bad_origin", "msg": "cross-origin request"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.gw.Serve(c.Request.Context(), conn, token)
}
