package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"mpsdash/internal/bootstrap/config"
	"mpsdash/internal/bootstrap/database"
	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
	"mpsdash/internal/infrastructure/cache"
	"mpsdash/internal/infrastructure/persistence/sqlite/model"
	"mpsdash/internal/ports"
	"mpsdash/internal/usecase/cachegc"
	"mpsdash/internal/usecase/credential"
	"mpsdash/internal/usecase/gateway"
)

// Caches holds the two stores the dashboard keeps: API responses and the
// OAuth token record.
type Caches struct {
	Responses *cache.Store
	Tokens    *cache.Store
}

// All names every store for sweeps and bulk clears.
func (c Caches) All() map[string]ports.Cache {
	return map[string]ports.Cache{
		"responses": c.Responses,
		"tokens":    c.Tokens,
	}
}

type App struct {
	Config      config.Config
	DB          *database.Lazy
	Caches      Caches
	TokenStore  ports.TokenStore
	Credentials *credential.Manager
	Gateway     *gateway.Gateway
	Cleaner     *cachegc.Cleaner
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithComponent(ctx, "bootstrap.app")
	logging.Info(logCtx, "start schema migration")

	db, err := a.DB.Get(ctx)
	if err != nil {
		return errs.Wrap(err, "open database")
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&model.OAuthToken{},
		&model.CacheSlot{},
	); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	logging.Info(logCtx, "schema migration completed", slog.String("database_dsn", a.Config.Database.DSN))
	return nil
}
