package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// NotifyChannel is the Postgres channel the insert trigger publishes on.
const NotifyChannel = "messages_inserted"

// Connect opens the backing database and applies migrations.
func Connect(ctx context.Context, driver, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == DriverSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.String("driver", driver))
	return db, nil
}

// Migrate creates the users, messages and friends tables if missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations(db.DriverName()) {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func migrations(driver string) []string {
	ts := "TIMESTAMP"
	if driver == DriverPostgres {
		ts = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            display_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL UNIQUE,
            avatar_url TEXT NOT NULL DEFAULT ''
        );`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            content TEXT NOT NULL,
            created_at %s NOT NULL
        );`, ts),
		`CREATE INDEX IF NOT EXISTS messages_pair_created_idx ON messages (sender_id, receiver_id, created_at);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS friends (
            user_id TEXT NOT NULL,
            friend_id TEXT NOT NULL,
            created_at %s NOT NULL,
            PRIMARY KEY(user_id, friend_id)
        );`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS revoked_sessions (
            token_id TEXT PRIMARY KEY,
            revoked_at %s NOT NULL
        );`, ts),
	}
	if driver == DriverPostgres {
		stmts = append(stmts,
			`CREATE OR REPLACE FUNCTION notify_message_inserted() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('`+NotifyChannel+`', row_to_json(NEW)::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
			`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
			`CREATE TRIGGER messages_notify AFTER INSERT ON messages
            FOR EACH ROW EXECUTE FUNCTION notify_message_inserted();`,
		)
	}
	return stmts
}
