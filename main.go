package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"storyboard-server/config"
	"storyboard-server/gemini"
	"storyboard-server/logger"
	"storyboard-server/media"
	"storyboard-server/models"
	"storyboard-server/pipeline"
	"storyboard-server/poller"
	"storyboard-server/routers"
	"storyboard-server/routers/api"
	"storyboard-server/service"
	"storyboard-server/store"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	db, err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		zl.Fatal("Failed to initialize database", zap.Error(err))
	}
	zl.Info("Database initialized", zap.String("driver", cfg.Database.Driver))
	if n, err := models.FailUnfinishedTasks(db, "server restarted before the task finished"); err != nil {
		zl.Error("Failed to recover unfinished tasks", zap.Error(err))
	} else if n > 0 {
		zl.Warn("Marked unfinished tasks as failed", zap.Int64("count", n))
	}

	ctx := context.Background()
	mediaStore, mediaDir := newMediaStore(ctx, cfg, zl)

	client, err := gemini.NewClient(gemini.Config{
		APIKey:     cfg.AI.APIKey,
		BaseURL:    cfg.AI.BaseURL,
		TextModel:  cfg.AI.TextModel,
		ImageModel: cfg.AI.ImageModel,
		Timeout:    cfg.AI.Timeout,
	}, zl)
	if err != nil {
		zl.Fatal("Failed to create generation client", zap.Error(err))
	}

	sessions := service.NewSessions(pipeline.Options{
		Provider: client,
		Media:    mediaStore,
		Poller:   poller.New(cfg.Poller.Interval, cfg.Poller.MaxWait, cfg.Poller.MaxAttempts, zl),
	}, zl)
	svc := service.New(db, store.New(db, zl), sessions, zl)

	var processor *service.Processor
	if cfg.Queue.Backend == "asynq" {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		dispatcher := service.NewAsynqDispatcher(redisOpt)
		defer dispatcher.Close()
		svc.Dispatcher = dispatcher

		// 会话保存在本进程内，消费者必须跑在同一进程
		processor = service.NewProcessor(svc.RunTask, zl)
		processor.StartProcessor(redisOpt, cfg.Queue.Concurrency)
	}

	gin.SetMode(gin.ReleaseMode)
	r := routers.InitRouter(api.NewHandler(svc, zl), routers.Options{
		AllowOrigins: cfg.Server.AllowOrigins,
		MediaDir:     mediaDir,
		MediaPath:    cfg.Media.PublicPath,
		Logger:       zl,
	})

	srv := &http.Server{Addr: cfg.Server.Port, Handler: r}
	go func() {
		zl.Info("Server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("Server shutdown failed", zap.Error(err))
	}
	if processor != nil {
		processor.Shutdown()
	}
	if inline, ok := svc.Dispatcher.(*service.InlineDispatcher); ok {
		if err := inline.Shutdown(shutdownCtx); err != nil {
			zl.Error("Inline tasks did not finish", zap.Error(err))
		}
	}
}

// newMediaStore 本地目录或 MinIO。本地时返回需要静态暴露的目录
func newMediaStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (media.Store, string) {
	if cfg.Media.Backend == "minio" {
		m := cfg.Media.Minio
		st, err := media.NewMinioStore(ctx, media.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
			PublicURL: m.PublicURL,
		})
		if err != nil {
			zl.Fatal("Failed to init MinIO media store", zap.Error(err))
		}
		return st, ""
	}
	st, err := media.NewLocalStore(cfg.Media.Dir, cfg.Media.PublicPath)
	if err != nil {
		zl.Fatal("Failed to init local media store", zap.Error(err))
	}
	return st, cfg.Media.Dir
}
