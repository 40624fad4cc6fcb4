package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"securechat/api/handlers"
	"securechat/api/middleware"
	"securechat/api/routes"
	"securechat/config"
	"securechat/db"
	"securechat/logging"
	"securechat/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// app is everything main starts and stops.
type app struct {
	conf     *config.ConfigSchema
	logger   *zap.Logger
	router   *gin.Engine
	redis    *redis.Client
	amqp     *services.AMQPNotifier
	gateway  *services.Gateway
	cleanups []func()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	if err := config.LoadConfig(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.NewLogger(config.AppConfig.Logs.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, config.AppConfig, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

func newApp(ctx context.Context, conf *config.ConfigSchema, logger *zap.Logger) (*app, error) {
	a := &app{conf: conf, logger: logger}

	if err := db.ConnectDB(); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	orm := db.ORM

	if conf.NeedsRedis() {
		client, err := services.NewRedisClient(ctx, conf)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.cleanups = append(a.cleanups, func() { _ = client.Close() })
	}

	var sessions services.SessionStore
	switch conf.Sessions.Backend {
	case "redis":
		sessions = services.NewRedisSessionStore(a.redis, conf.Sessions.TTL)
	default:
		sessions = services.NewMemorySessionStore(conf.Sessions.TTL)
	}
	auth := services.NewAuthService(services.NewIdentityStore(orm), sessions)
	friends := services.NewRelationshipStore(orm)

	var messageLog services.MessageLog
	switch conf.MessageLog.Backend {
	case "redis":
		redisLog, err := services.NewRedisMessageLog(ctx, a.redis, friends)
		if err != nil {
			a.close()
			return nil, err
		}
		messageLog = redisLog
	default:
		messageLog = services.NewSQLMessageLog(orm, friends)
	}

	metrics := services.NewMetrics(prometheus.DefaultRegisterer)
	registry := services.NewConnRegistry(metrics, logger.Named("registry"))

	var notifier services.Notifier
	if conf.RabbitMQ.URL != "" {
		n, err := services.NewAMQPNotifier(conf.RabbitMQ.URL, conf.RabbitMQ.Exchange, registry, metrics, logger.Named("amqp"))
		if err != nil {
			a.close()
			return nil, err
		}
		a.amqp = n
		a.cleanups = append(a.cleanups, func() { _ = n.Close() })
		notifier = n
	} else {
		notifier = services.NewLocalNotifier(registry)
	}

	a.gateway = services.NewGateway(services.GatewayDeps{
		Auth:      auth,
		Friends:   friends,
		Log:       messageLog,
		Registry:  registry,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    logger.Named("gateway"),
		Transport: services.TransportConfigFrom(conf),
		PageSize:  conf.MessageLog.PageSize,
	})

	if conf.Logs.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(logger.Named("http")))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.PrometheusMiddleware("securechat"))

	chat := handlers.NewChatHandlers(a.gateway, logger.Named("api")).
		WithUploads(conf.Uploads.Dir, conf.Uploads.MaxSize)
	routes.PublicApi(router, chat, auth)
	routes.ServiceApi(router, a.ping)
	a.router = router
	return a, nil
}

func (a *app) ping(ctx context.Context) error {
	sqlDB, err := db.ORM.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.conf.Backend.Host, a.conf.Backend.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.amqp != nil {
		g.Go(func() error {
			return a.amqp.Consume(gctx)
		})
	}
	return g.Wait()
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
	if db.ORM != nil {
		if sqlDB, err := db.ORM.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
