package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/fx"

	"mpsdash/internal/bootstrap/config"
	"mpsdash/internal/bootstrap/database"
	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
	"mpsdash/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "mpsdash/internal/infrastructure/persistence/sqlite/repository"
	"mpsdash/internal/ports"
	"mpsdash/internal/usecase/cachegc"
	"mpsdash/internal/usecase/credential"
	"mpsdash/internal/usecase/gateway"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideCaches),
	fx.Provide(provideTokenStore),
	fx.Provide(provideCredentials),
	fx.Provide(func(m *credential.Manager) ports.CredentialProvider { return m }),
	fx.Provide(provideGateway),
	fx.Provide(provideCleaner),
	fx.Provide(provideApp),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithComponent(p.Ctx, "bootstrap.fx")
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, cfg config.Config) *database.Lazy {
	db := database.NewLazy(cfg.Database)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return db.Close()
		},
	})
	return db
}

func provideCaches(lc fx.Lifecycle, ctx context.Context, cfg config.Config, db *database.Lazy) Caches {
	logCtx := logging.WithComponent(ctx, "bootstrap.fx")

	responses, closer := openResponseCache(logCtx, cfg, db)
	if closer != nil {
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return closer.Close()
			},
		})
	}

	return Caches{
		Responses: responses,
		Tokens:    openTokenCache(logCtx, cfg),
	}
}

func provideTokenStore(ctx context.Context, cfg config.Config, caches Caches, db *database.Lazy) (ports.TokenStore, error) {
	switch strings.ToLower(cfg.OAuth.Store) {
	case "sqlite":
		gormDB, err := db.Get(ctx)
		if err != nil {
			return nil, errs.Wrap(err, "open token database")
		}
		if err := gormDB.WithContext(ctx).AutoMigrate(&model.OAuthToken{}); err != nil {
			return nil, errs.Wrap(err, "auto migrate oauth_tokens")
		}
		return sqliterepo.NewTokenRepository(gormDB), nil
	case "cache":
		return credential.NewCacheTokenStore(caches.Tokens), nil
	default:
		return nil, fmt.Errorf("unsupported token store %q", cfg.OAuth.Store)
	}
}

func provideCredentials(cfg config.Config, store ports.TokenStore) (*credential.Manager, error) {
	return credential.NewManager(store, credential.Options{
		TokenURL:         cfg.OAuth.TokenURL,
		ClientID:         cfg.OAuth.ClientID,
		ClientSecret:     cfg.OAuth.ClientSecret,
		Username:         cfg.OAuth.Username,
		Password:         cfg.OAuth.Password,
		Scope:            cfg.OAuth.Scope,
		SafetyBuffer:     cfg.OAuth.SafetyBuffer,
		Timeout:          cfg.OAuth.Timeout,
		RefreshRetention: cfg.OAuth.RefreshRetention,
	})
}

func provideGateway(cfg config.Config, caches Caches, creds ports.CredentialProvider) (*gateway.Gateway, error) {
	return gateway.New(caches.Responses, creds, gateway.Options{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout,
		DefaultTTL: cfg.API.DefaultTTL,
		RateLimit:  cfg.API.RateLimit,
		Burst:      cfg.API.Burst,
		UserAgent:  cfg.App.Name + "/1.0",
	})
}

func provideCleaner(cfg config.Config, caches Caches) *cachegc.Cleaner {
	return cachegc.NewCleaner(cfg.Cache.GCInterval, caches.All())
}

type appParams struct {
	fx.In

	Ctx         context.Context
	Config      config.Config
	DB          *database.Lazy
	Caches      Caches
	TokenStore  ports.TokenStore
	Credentials *credential.Manager
	Gateway     *gateway.Gateway
	Cleaner     *cachegc.Cleaner
}

func provideApp(p appParams) *App {
	logging.Info(
		logging.WithComponent(p.Ctx, "bootstrap.fx"),
		"application wired",
		slog.Bool("response_cache", p.Caches.Responses.Enabled()),
		slog.Bool("token_cache", p.Caches.Tokens.Enabled()),
	)
	return &App{
		Config:      p.Config,
		DB:          p.DB,
		Caches:      p.Caches,
		TokenStore:  p.TokenStore,
		Credentials: p.Credentials,
		Gateway:     p.Gateway,
		Cleaner:     p.Cleaner,
	}
}
