package routers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storyboard-server/pipeline"
	"storyboard-server/routers/api"
)

type Options struct {
	AllowOrigins []string
	// MediaDir 非空时以 MediaPath 提供本地媒体文件
	MediaDir  string
	MediaPath string
	Logger    *zap.Logger
}

func InitRouter(h *api.Handler, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), ZapLogger(log))
	r.Use(cors.New(corsConfig(opts.AllowOrigins)))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(pipeline.Registry, promhttp.HandlerOpts{})))
	if opts.MediaDir != "" {
		r.StaticFS(opts.MediaPath, http.Dir(opts.MediaDir))
	}

	v1 := r.Group("/v1/api")
	{
		v1.GET("/options", h.Options)

		v1.POST("/sessions", h.CreateSession)
		v1.GET("/sessions/:session_id", h.GetSession)
		v1.DELETE("/sessions/:session_id", h.DeleteSession)
		v1.POST("/sessions/:session_id/story", h.SubmitStory)
		v1.POST("/sessions/:session_id/characters", h.SubmitCharacters)
		v1.POST("/sessions/:session_id/config", h.SubmitConfig)
		v1.POST("/sessions/:session_id/back", h.Back)
		v1.GET("/sessions/:session_id/export", h.ExportProject)
		v1.POST("/sessions/:session_id/import", h.ImportProject)

		v1.GET("/sessions/:session_id/pipeline", h.GetPipeline)
		v1.POST("/sessions/:session_id/scenes", h.GenerateScenes)
		v1.PUT("/sessions/:session_id/scenes/:scene_id", h.UpdateScene)
		v1.POST("/sessions/:session_id/scenes/:scene_id/preview", h.GenerateScenePreview)
		v1.PUT("/sessions/:session_id/cast/:character_id", h.UpdateCastMember)
		v1.POST("/sessions/:session_id/cast/:character_id/image", h.GenerateCharacterImage)
		v1.POST("/sessions/:session_id/cast/:character_id/upload", h.UploadCharacterImage)
		v1.POST("/sessions/:session_id/video", h.GenerateVideo)

		v1.GET("/stories", h.ListStories)
		v1.POST("/stories", h.SaveStory)
		v1.DELETE("/stories/:story_id", h.DeleteStory)
		v1.GET("/stories/export", h.ExportStories)
		v1.POST("/stories/import", h.ImportStories)

		v1.GET("/characters", h.ListCharacters)
		v1.POST("/characters", h.AddCharacter)
		v1.DELETE("/characters/:character_id", h.DeleteCharacter)
		v1.GET("/characters/export", h.ExportCharacters)
		v1.POST("/characters/import", h.ImportCharacters)

		v1.GET("/tasks/:task_id", h.GetTask)
	}
	v1.GET("/sessions/:session_id/ws", h.SessionWebSocket)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
