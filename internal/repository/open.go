package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/database"
)

// Open connects the store selected by cfg.Driver and returns it with a
// connectivity probe for health checks.
func Open(ctx context.Context, cfg config.Database) (Store, func(context.Context) error, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresStore(pool), pool.Ping, nil
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteStore(db), db.PingContext, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}
