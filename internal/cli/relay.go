package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/feed"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/repositories"
	"chat-sync/internal/session"
	"chat-sync/internal/ws"
)

// Relay targets.
const (
	targetRedis = "redis"
	targetAMQP  = "amqp"
	targetWS    = "ws"
)

// NewRelayCommand fans database inserts out to per-user streams.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Republish inserted messages to per-user Redis, AMQP and websocket streams",
		Long: `Follow every insert on the messages table through FEED_DRIVER and publish
each row to both participants on the RELAY_TARGETS (redis, amqp, ws). Engines
without database notifications subscribe to these streams instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer log.Sync()
			return relay(cmd.Context(), cfg, log)
		},
	}
}

func relay(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.FeedDriver == config.FeedWS || cfg.FeedDriver == config.FeedNone {
		return fmt.Errorf("relay cannot follow FEED_DRIVER %q", cfg.FeedDriver)
	}
	if len(cfg.RelayTargets) == 0 {
		return errors.New("RELAY_TARGETS is empty")
	}

	var (
		rdb        *redis.Client
		publishers []feed.Publisher
		hub        *ws.Hub
	)
	if cfg.FeedDriver == config.FeedRedis || contains(cfg.RelayTargets, targetRedis) {
		rdb = newRedisClient(cfg)
		defer rdb.Close()
	}
	source, err := buildSource(cfg, rdb, log)
	if err != nil {
		return err
	}

	amqpPub := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer amqpPub.Close()

	for _, target := range cfg.RelayTargets {
		switch target {
		case targetRedis:
			publishers = append(publishers, feed.NewRedisPublisher(rdb))
		case targetAMQP:
			publishers = append(publishers, feed.NewAMQPPublisher(amqpPub))
		case targetWS:
			var events rabbitmq.HeaderPublisher
			if hp, ok := amqpPub.(rabbitmq.HeaderPublisher); ok {
				events = hp
			}
			hub = ws.NewHub(events, log)
			publishers = append(publishers, ws.NewPublisher(hub))
		default:
			return fmt.Errorf("unknown relay target %q", target)
		}
	}

	listener := feed.NewListener(source, feed.NewRelay(log, publishers...), "", feedConfig(cfg), log)
	relayErr := make(chan error, 1)
	go func() { relayErr <- listener.Run(ctx) }()
	log.Info("relay started", zap.String("feed", source.Name()), zap.Strings("targets", cfg.RelayTargets))

	if hub == nil {
		err := <-relayErr
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	// websocket targets need an endpoint for engines to dial
	database, err := db.Connect(ctx, cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return err
	}
	defer database.Close()
	sessions := session.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL,
		repositories.NewSessionRepo(database), repositories.NewUserRepo(database))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), observability.RequestIDMiddleware(), observability.HTTPMetricsMiddleware())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/feed", middleware.AuthMiddleware(sessions, ""), ws.NewFeedHandler(hub).Handle)

	err = runServer(ctx, &http.Server{Addr: ":" + cfg.Port, Handler: router}, log)
	stop()
	if lerr := <-relayErr; err == nil && !errors.Is(lerr, context.Canceled) {
		err = lerr
	}
	return err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
