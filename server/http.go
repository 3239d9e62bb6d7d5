package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-ingest/config"
	"recording-ingest/constant"
	"recording-ingest/handler"
	"recording-ingest/pkg/kafka"
	"recording-ingest/pkg/rabbitmq"
	"recording-ingest/pkg/storage"
	"recording-ingest/repository"
	"recording-ingest/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	var repo repository.RecordingRepository
	if cfg.DB != nil {
		var err error
		repo, err = repository.NewRepo(cfg.DB, cfg.App.Environment == constant.EnvironmentDevelop.String())
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRepo")
			repo = nil
		}
	}

	var conn *amqp.Connection
	if cfg.Queue.Host != "" {
		var err error
		conn, err = config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
			conn = nil
		}
	}

	publisher, closePublisher := newPublisher(ctx, cfg, conn)
	defer closePublisher()

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to set up artifact storage")
	}

	encoder := service.NewFFmpegEncoder(cfg.Recording.FFmpegPath, cfg.Recording.FFprobePath)
	if err := encoder.Available(ctx); err != nil {
		// recordings will be refused until the binary shows up
		zerolog.Ctx(ctx).Warn().Err(err).Msg("encoder not available")
	}
	recordingService := service.NewRecordingService(cfg, encoder, repo, publisher, artifacts)

	go recordingService.RunReaper(ctx)

	if conn != nil {
		deps := handler.ServiceDependencies{RecordingService: recordingService}
		controlConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.ControlQueue(cfg.Queue.ExchangeName), cfg.Server.Workers, handler.ControlHandler)
		go func() {
			err := controlConsumer.Consume(ctx, deps)
			if err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("control consumer error")
			}
		}()
	}

	r := NewRouter(ctx, cfg, recordingService)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	recordingService.Shutdown(shutdownCtx)

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// NewRouter mounts the ingest channel, the status endpoint and, for local
// artifacts, the download route.
func NewRouter(ctx context.Context, cfg *config.Config, svc service.RecordingService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(ctx))
	addHealth(r)

	r.GET("/ws", wsHandler(handler.NewChannel(svc)))
	handler.NewStatusHandler(svc).Register(r)

	if cfg.Artifacts != "minio" && strings.HasPrefix(cfg.Paths.PublicBaseURL, "/") {
		r.Static(cfg.Paths.PublicBaseURL, cfg.Paths.CompletedDir)
	}
	return r
}

// requestLogger puts the root logger into each request context and logs the
// request once it is done.
func requestLogger(ctx context.Context) gin.HandlerFunc {
	logger := zerolog.Ctx(ctx)
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, conn *amqp.Connection) (service.EventPublisher, func()) {
	switch cfg.EventsDriver {
	case "rabbitmq":
		if conn == nil {
			zerolog.Ctx(ctx).Warn().Msg("events driver is rabbitmq but no broker connection, events disabled")
			return nil, func() {}
		}
		publisher, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewPublisher")
			return nil, func() {}
		}
		return publisher, func() { publisher.Close() }
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewProducer")
			return nil, func() {}
		}
		return producer, func() { producer.Close() }
	}
	return nil, func() {}
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (storage.ArtifactStore, error) {
	if cfg.Artifacts == "minio" {
		if cfg.Storage == nil {
			return nil, errors.New("artifacts driver is minio but minio.url is not set")
		}
		return storage.NewMinioStore(ctx, cfg.Storage, cfg.MinIOBucket, cfg.MinIO.PresignExpiry)
	}
	if err := os.MkdirAll(cfg.Paths.CompletedDir, os.ModePerm); err != nil {
		return nil, err
	}
	return storage.NewLocalStore(cfg.Paths.CompletedDir, cfg.Paths.PublicBaseURL), nil
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
