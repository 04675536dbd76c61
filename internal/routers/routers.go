package routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatSync/config"
	"github.com/Gopher0727/ChatSync/internal/handlers"
	"github.com/Gopher0727/ChatSync/internal/middlewares"
)

// SetupRoutes 设置本地意图接口的全部路由
func SetupRoutes(r *gin.Engine,
	cfg *config.RateLimitConfig,
	mw *middlewares.MiddlewareManager,
	pool middlewares.Submitter, // 协程池，nil 时同步执行
	h *handlers.SessionHandler,
) {
	r.Use(mw.Recovery(), mw.Trace(), mw.Logger(), mw.CORS())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active": h.Session.Active()})
	})

	api := r.Group("/api/v1")
	api.Use(mw.JWTAuth(), mw.RateLimit("intent", cfg.IntentPerMinute), mw.Async(pool))

	RegisterSessionRoutes(api, h)
	RegisterChannelRoutes(api, h, mw.RateLimit("send", cfg.SendPerMinute))
}

// RegisterSessionRoutes 与具体频道无关的投影与意图
func RegisterSessionRoutes(g *gin.RouterGroup, h *handlers.SessionHandler) {
	g.GET("/me", h.Me)
	g.GET("/activity", h.ListActivity)
	g.GET("/saved", h.GetSaved)                         // ?refresh=true 向服务端同步
	g.POST("/messages/:message_id/save", h.ToggleSave) // 收藏/取消收藏
	g.POST("/dms", h.OpenDM)                            // 打开私聊
}

// RegisterChannelRoutes 频道及其消息
func RegisterChannelRoutes(g *gin.RouterGroup, h *handlers.SessionHandler, sendLimit gin.HandlerFunc) {
	channels := g.Group("/channels")
	{
		channels.GET("", h.ListChannels)
		channels.POST("", h.CreateChannel)
		channels.POST("/refresh", h.RefreshChannels)

		channels.PATCH("/:channel_id", h.UpdateChannel) // 主题、静音
		channels.POST("/:channel_id/members", h.InviteMembers)
		channels.POST("/:channel_id/switch", h.SwitchChannel)
		channels.GET("/:channel_id/activity", h.GetActivity)
		channels.POST("/:channel_id/read", h.MarkRead)
		channels.GET("/:channel_id/pins", h.GetPins)
		channels.GET("/:channel_id/typing", h.GetTyping)
		channels.POST("/:channel_id/typing", h.StartTyping)
		channels.GET("/:channel_id/huddle", h.GetHuddle)
		channels.PUT("/:channel_id/huddle", h.SetHuddle)
	}

	messages := channels.Group("/:channel_id/messages")
	{
		messages.GET("", h.GetMessages)
		messages.POST("", sendLimit, h.SendMessage)
		messages.POST("/restore", h.RestoreMessage)
		messages.PATCH("/:message_id", h.EditMessage)
		messages.DELETE("/:message_id", h.DeleteMessage)
		messages.GET("/:message_id/thread", h.GetThread)
		messages.POST("/:message_id/thread", sendLimit, h.ReplyInThread)
		messages.POST("/:message_id/reactions", h.ToggleReaction)
		messages.POST("/:message_id/pin", h.TogglePin)
		messages.POST("/:message_id/unread", h.MarkUnread)
	}
}
