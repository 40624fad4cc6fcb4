package routes

import (
	"context"
	"net/http"
	"time"

	"securechat/api/handlers"
	"securechat/api/middleware"
	"securechat/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func PublicApi(router *gin.Engine, h *handlers.ChatHandlers, auth *services.AuthService) *gin.RouterGroup {
	publicEndpoints := router.Group("/api/v1/")
	{
		publicEndpoints.POST("register", h.Register)
		publicEndpoints.POST("login", h.Login)
		publicEndpoints.GET("ws", h.WSChatHandler)
	}

	privateEndpoints := publicEndpoints.Group("", middleware.SessionAuth(auth))
	{
		privateEndpoints.POST("logout", h.Logout)

		privateEndpoints.GET("friends", h.GetFriends)
		privateEndpoints.GET("requests", h.GetPendingRequests)
		privateEndpoints.POST("requests", h.SendFriendRequest)
		privateEndpoints.GET("requests/count", h.CountPendingRequests)
		privateEndpoints.POST("handle_request", h.HandleFriendRequest)

		privateEndpoints.GET("history/:target", h.GetHistory)

		privateEndpoints.GET("profile", h.GetProfile)
		privateEndpoints.POST("profile", h.UpdateProfile)

		privateEndpoints.POST("upload", h.Upload)
	}
	if dir := h.UploadDir(); dir != "" {
		router.Static(handlers.UploadURLPrefix, dir)
	}
	return publicEndpoints
}

// ServiceApi exposes liveness and metrics. ping reports whether the
// backing stores are reachable.
func ServiceApi(router *gin.Engine, ping func(ctx context.Context) error) {
	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if ping != nil {
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "msg": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
