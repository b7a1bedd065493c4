package server

import (
	"net/http"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/auth"
	"github.com/IqraKhanZ/ChatNest/internal/config"
	"github.com/IqraKhanZ/ChatNest/internal/metrics"
	"github.com/IqraKhanZ/ChatNest/internal/mw"
	"github.com/IqraKhanZ/ChatNest/internal/service"
	"github.com/IqraKhanZ/ChatNest/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// pub 为 nil 时消息直接投递到本进程的 hub；启用 Redis 时传入 RedisRelay。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub, pub service.Publisher, completer Completer) *gin.Engine {
	if pub == nil {
		pub = hub
	}
	h := NewHandler(
		service.NewUserService(db, cfg),
		service.NewRoomService(db, hub),
		service.NewMessageService(db, pub),
		completer, db, cfg.JWTSecret,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.AllowedOrigins))
	// 控制单个 IP+路由的速率。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40, mw.ByIPAndRoute))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.GET("/me", h.Me)
	authed.DELETE("/me", h.DeleteMe)
	authed.GET("/profiles", h.Profiles)
	authed.GET("/profiles/:id", h.Profile)

	authed.POST("/rooms", h.CreateRoom)
	authed.POST("/rooms/join", h.JoinRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.GET("/rooms/:id/members", h.Members)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/rooms/:id/messages", h.CreateMessage)

	// 上游按 token 计费，按用户单独限速。
	authed.POST("/ai/reply", mw.RateLimit(rate.Every(3*time.Second), 5, mw.ByUser), h.AIReply)

	r.GET("/ws", ws.Serve(hub, h.FeedGate, cfg.AllowedOrigins, cfg.Env))
	return r
}
