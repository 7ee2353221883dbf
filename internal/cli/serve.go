package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/engine"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/repositories"
	"chat-sync/internal/session"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

const serviceName = "chat-sync"

// NewServeCommand runs the engine for one local user behind the local API.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Sync one user's conversations and serve the local API",
		Long: `Start the sync engine for the local user (LOCAL_USER_ID, or the user of
SESSION_TOKEN), subscribe to the configured live feed and serve the HTTP API
and the /ws/updates stream for a UI process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	database, err := db.Connect(ctx, cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return err
	}
	defer database.Close()

	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)
	friendRepo := repositories.NewFriendRepo(database)
	sessionRepo := repositories.NewSessionRepo(database)
	sessions := session.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL, sessionRepo, userRepo)

	localID, err := resolveLocalUser(ctx, cfg, sessions)
	if err != nil {
		return err
	}
	log = log.With(zap.String("local_user_id", localID))

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	log.Info("event publisher ready", zap.String("mode", rabbitmq.PublisherMode(publisher)), zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Env, log)

	var rdb *redis.Client
	if cfg.FeedDriver == config.FeedRedis {
		rdb = newRedisClient(cfg)
		defer rdb.Close()
	}
	source, err := buildSource(cfg, rdb, log)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		LocalID:        localID,
		FriendGating:   cfg.FriendGating,
		DedupTolerance: cfg.DedupTolerance,
		Feed:           feedConfig(cfg),
	}, engine.Deps{
		Messages: messageRepo,
		Users:    userRepo,
		Friends:  friendRepo,
		Source:   source,
		Audit:    audit,
		Log:      log,
	})
	if err := eng.Start(ctx); err != nil {
		log.Warn("starting with partial state", zap.Error(err))
	}

	var events rabbitmq.HeaderPublisher
	if hp, ok := publisher.(rabbitmq.HeaderPublisher); ok {
		events = hp
	}
	hub := ws.NewHub(events, log)
	updates := ws.NewUpdatesHandler(hub, eng, log)
	go updates.Pump(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), observability.RequestIDMiddleware(), observability.HTTPMetricsMiddleware())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.AuthMiddleware(sessions, localID)
	handlers.RegisterRoutes(router, auth,
		handlers.NewSyncHandler(eng),
		handlers.NewFriendHandler(eng),
		handlers.NewSessionHandler(sessions, audit))
	router.GET("/ws/updates", auth, updates.Handle)
	handlers.RegisterDebugRoutes(router, audit, eng, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	err = runServer(ctx, srv, log)
	stop()
	<-eng.Done()
	return err
}

// resolveLocalUser picks LOCAL_USER_ID, or the owner of SESSION_TOKEN.
func resolveLocalUser(ctx context.Context, cfg config.Config, sessions *session.Manager) (string, error) {
	if cfg.SessionToken != "" {
		claims, err := sessions.Validate(ctx, cfg.SessionToken)
		if err != nil {
			return "", fmt.Errorf("session token: %w", err)
		}
		if cfg.LocalUserID != "" && cfg.LocalUserID != claims.UserID {
			return "", fmt.Errorf("SESSION_TOKEN belongs to %s, not LOCAL_USER_ID %s", claims.UserID, cfg.LocalUserID)
		}
		return claims.UserID, nil
	}
	if cfg.LocalUserID == "" {
		return "", fmt.Errorf("LOCAL_USER_ID or SESSION_TOKEN is required")
	}
	return cfg.LocalUserID, nil
}
