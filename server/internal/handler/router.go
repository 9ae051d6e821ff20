package handler

import (
	"time"

	"DocChat/server/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Auth     *AuthHandler
	Files    *FileHandler
	Chat     *ChatHandler
	Verifier middleware.TokenVerifier

	CORSOrigins    []string
	MaxUploadBytes int64
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.TraceMiddleware())
	r.MaxMultipartMemory = deps.MaxUploadBytes

	corsCfg := cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token", "Authorization", middleware.TraceHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.TraceHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(deps.CORSOrigins) == 0 || (len(deps.CORSOrigins) == 1 && deps.CORSOrigins[0] == "*") {
		// browsers reject a literal * with credentials, so echo the origin
		corsCfg.AllowOrigins = nil
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", Health)

	auth := r.Group("/auth")
	{
		auth.POST("/register", deps.Auth.Register)
		auth.POST("/login", deps.Auth.Login)
	}

	// the gateway authenticates its own handshake
	r.GET("/socket", deps.Chat.HandleSocket)

	files := r.Group("/files")
	files.Use(middleware.JWTAuth(deps.Verifier))
	{
		files.POST("/upload", deps.Files.Upload)
		files.GET("", deps.Files.List)
		files.GET("/:fileId", deps.Files.Get)
		files.DELETE("/:fileId", deps.Files.Delete)
		files.POST("/:fileId/reindex", deps.Files.Reindex)
		files.GET("/:fileId/raw", deps.Files.Raw)
	}
	return r
}
