package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"chat-sync/internal/config"
	"chat-sync/internal/feed"
)

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
}

// buildSource returns the live feed for cfg.FeedDriver, or nil for "none".
func buildSource(cfg config.Config, rdb *redis.Client, log *zap.Logger) (feed.Source, error) {
	switch cfg.FeedDriver {
	case config.FeedPostgres:
		return feed.NewPGSource(cfg.DBDSN, log), nil
	case config.FeedRedis:
		if rdb == nil {
			return nil, errors.New("redis feed without a client")
		}
		return feed.NewRedisSource(rdb, log), nil
	case config.FeedAMQP:
		return feed.NewAMQPSource(cfg.AMQPURL, cfg.AMQPExchange, log), nil
	case config.FeedWS:
		header := http.Header{}
		if cfg.SessionToken != "" {
			header.Set("Authorization", "Bearer "+cfg.SessionToken)
		}
		return feed.NewWSSource(cfg.FeedWSURL, header, log), nil
	case config.FeedNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported feed driver %q", cfg.FeedDriver)
	}
}

func feedConfig(cfg config.Config) feed.Config {
	return feed.Config{
		MaxResubscribeFailures: cfg.MaxResubscribeFailures,
		PollInterval:           cfg.PollInterval,
	}
}

// runServer serves srv until ctx is done, then drains it.
func runServer(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}
