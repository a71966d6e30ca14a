// Package api is thin glue between HTTP and the archive engines: it parses
// parameters, calls the traversal engine or the store, and shapes errors.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/config"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/redis"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/security"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/storage"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/traverse"
)

type Server struct {
	log      *slog.Logger
	store    store.Store
	engine   *traverse.Engine
	media    storage.MediaStore
	cache    *redis.Client
	cfg      config.Config
	limiters *security.LimiterStore
	router   *gin.Engine
}

func NewServer(log *slog.Logger, st store.Store, engine *traverse.Engine, media storage.MediaStore, cache *redis.Client, cfg config.Config, progress *ProgressServer) *Server {
	s := &Server{
		log:      log,
		store:    st,
		engine:   engine,
		media:    media,
		cache:    cache,
		cfg:      cfg,
		limiters: security.NewLimiterStore(rate.Limit(30), 60, 10*time.Minute),
		router:   gin.New(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.rateLimitMiddleware())

	api := r.Group("/api")
	{
		api.GET("/conversations", s.listConversations)
		api.GET("/conversation", s.getConversation)
		api.GET("/conversation/names", s.conversationNames)
		api.POST("/conversation/notes", s.setConversationNotes)

		api.GET("/messages", s.getMessages)
		api.GET("/message", s.getMessage)
		api.GET("/messages/random", s.randomMessages)

		api.GET("/users", s.listUsers)
		api.GET("/user", s.getUser)
		api.POST("/user/nickname", s.setUserNickname)
		api.POST("/user/notes", s.setUserNotes)

		api.GET("/globalstats", s.globalStats)
		api.GET("/avatar/:file", s.getAvatar)
		api.GET("/media/:file", s.getMedia)
		api.GET("/media-dimensions", s.mediaDimensions)

		api.GET("/health", s.health)

		if progress != nil {
			api.GET("/progress", gin.WrapH(progress))
		}
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
