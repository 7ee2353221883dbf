// Package config loads process settings from the environment, an optional
// .env file and an optional chatsync.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"chat-sync/internal/db"
)

// Feed drivers.
const (
	FeedPostgres = "postgres"
	FeedRedis    = "redis"
	FeedAMQP     = "amqp"
	FeedWS       = "ws"
	FeedNone     = "none"
)

type Config struct {
	Env      string
	LogLevel string
	Port     string

	DBDriver string
	DBDSN    string

	// LocalUserID or SessionToken identifies the user the engine syncs for.
	LocalUserID  string
	SessionToken string
	JWTSecret    string
	JWTIssuer    string
	SessionTTL   time.Duration

	FeedDriver             string
	RedisAddr              string
	RedisPassword          string
	AMQPURL                string
	AMQPExchange           string
	FeedWSURL              string
	PollInterval           time.Duration
	MaxResubscribeFailures int
	DedupTolerance         time.Duration
	FriendGating           bool

	// RelayTargets lists the publishers the relay fans out to.
	RelayTargets []string

	OTLPEndpoint    string
	AuditRoutingKey string
	DebugRoutes     bool
}

// IsProduction reports whether ENV is production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads .env (when present), chatsync.yaml (when present) and the
// environment, in increasing precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("chatsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return FromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8083")
	v.SetDefault("DB_DRIVER", db.DriverPostgres)
	v.SetDefault("JWT_ISSUER", "chat-sync")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("FEED_DRIVER", FeedPostgres)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("AMQP_EXCHANGE", "chat.events")
	v.SetDefault("POLL_INTERVAL", "30s")
	v.SetDefault("MAX_RESUBSCRIBE_FAILURES", 5)
	v.SetDefault("DEDUP_TOLERANCE", "5s")
	v.SetDefault("FRIEND_GATING", false)
	v.SetDefault("RELAY_TARGETS", "redis,amqp")
	v.SetDefault("AUDIT_ROUTING_KEY", "audit.chat-sync")
	v.SetDefault("DEBUG_ROUTES", false)
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:                    v.GetString("ENV"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		Port:                   v.GetString("PORT"),
		DBDriver:               v.GetString("DB_DRIVER"),
		DBDSN:                  v.GetString("DB_DSN"),
		LocalUserID:            v.GetString("LOCAL_USER_ID"),
		SessionToken:           v.GetString("SESSION_TOKEN"),
		JWTSecret:              v.GetString("JWT_SECRET"),
		JWTIssuer:              v.GetString("JWT_ISSUER"),
		SessionTTL:             v.GetDuration("SESSION_TTL"),
		FeedDriver:             strings.ToLower(v.GetString("FEED_DRIVER")),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		AMQPURL:                v.GetString("AMQP_URL"),
		AMQPExchange:           v.GetString("AMQP_EXCHANGE"),
		FeedWSURL:              v.GetString("FEED_WS_URL"),
		PollInterval:           v.GetDuration("POLL_INTERVAL"),
		MaxResubscribeFailures: v.GetInt("MAX_RESUBSCRIBE_FAILURES"),
		DedupTolerance:         v.GetDuration("DEDUP_TOLERANCE"),
		FriendGating:           v.GetBool("FRIEND_GATING"),
		RelayTargets:           splitList(v.GetString("RELAY_TARGETS")),
		OTLPEndpoint:           v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AuditRoutingKey:        v.GetString("AUDIT_ROUTING_KEY"),
		DebugRoutes:            v.GetBool("DEBUG_ROUTES"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q: must be %s or %s", c.DBDriver, db.DriverPostgres, db.DriverSQLite))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.FeedDriver {
	case FeedPostgres:
		if c.DBDriver != db.DriverPostgres {
			errs = append(errs, errors.New("FEED_DRIVER postgres needs DB_DRIVER postgres"))
		}
	case FeedRedis, FeedNone:
	case FeedAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, errors.New("FEED_DRIVER amqp needs AMQP_URL"))
		}
	case FeedWS:
		if c.FeedWSURL == "" {
			errs = append(errs, errors.New("FEED_DRIVER ws needs FEED_WS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("FEED_DRIVER %q is not supported", c.FeedDriver))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.MaxResubscribeFailures <= 0 {
		errs = append(errs, errors.New("MAX_RESUBSCRIBE_FAILURES must be positive"))
	}
	if c.DedupTolerance < 0 {
		errs = append(errs, errors.New("DEDUP_TOLERANCE must not be negative"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
