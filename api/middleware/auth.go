package middleware

import (
	"net/http"

	"securechat/api/handlers"
	"securechat/services"

	"github.com/gin-gonic/gin"
)

// SessionAuth resolves the session token of the request and stores the
// username for handlers. Requests without a live session get 401.
func SessionAuth(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := handlers.TokenFromRequest(c)
		sess, err := auth.Resolve(c.Request.Context(), token)
		if err != nil {
			code, msg := services.Public(err)
			status := http.StatusUnauthorized
			if services.KindOf(err) == services.KindInternal {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"status": "error", "code": code, "msg": msg})
			return
		}
		c.Set(handlers.ContextUserKey, sess.Username)
		c.Set(handlers.ContextTokenKey, sess.Token)
		c.Next()
	}
}
