package http

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/sajalbasnet/chautari/internal/ws"
)

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(router *gin.Engine, db *gorm.DB, hub *ws.Hub) {

	// --- Dependencies ---
	env := NewEnv(db, hub)

	// --- Middleware ---

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())
	router.Use(IdentityMiddleware())

	corsOrigin := os.Getenv("CORS_ORIGIN")
	if corsOrigin == "" {
		corsOrigin = "*" // Default to allow all for local dev
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Admin-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// --- Rate Limiter Setup ---
	limiter := NewIPRateLimiter(rate.Limit(rateLimitRPS), rateLimitBurst)
	go func() {
		for {
			time.Sleep(10 * time.Minute)
			limiter.Sweep()
		}
	}()

	// --- API Routes ---

	api := router.Group("/api")
	{
		// Feed and reads
		api.GET("/feed", env.GetFeed)
		api.GET("/posts/:id", env.GetPost)
		api.GET("/posts/:id/replies", env.GetReplies)
		api.GET("/aggregate", env.GetAggregate)
		api.GET("/bookmarks", env.ListBookmarks)

		// Mutations
		api.POST("/posts", RateLimitMiddleware(limiter), env.CreatePost)
		api.PATCH("/posts/:id", env.UpdatePost)
		api.POST("/posts/:id/replies", RateLimitMiddleware(limiter), env.CreateReply)
		api.POST("/reactions", env.SetReaction)
		api.POST("/bookmarks/toggle", env.ToggleBookmark)

		// Admin
		api.POST("/posts/:id/archive", AdminAuthMiddleware(), env.ArchivePost)
	}

	// --- WebSocket Route ---

	router.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(hub, c.Writer, c.Request)
	})
}
