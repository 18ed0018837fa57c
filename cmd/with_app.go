package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"mpsdash/internal/bootstrap"
	"mpsdash/internal/bootstrap/config"
	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
)

func withApp(run func(cmd *cobra.Command, app *bootstrap.App) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		var app *bootstrap.App
		fxApp := fx.New(
			bootstrap.Module,
			fx.NopLogger,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Populate(&app),
		)

		startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		cmd.SetContext(configuredLogger(cmd, app.Config.Log))

		if err := run(cmd, app); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}

// configuredLogger swaps in the logger described by the config file unless
// the command line already chose level and format.
func configuredLogger(cmd *cobra.Command, cfg config.LogConfig) context.Context {
	level := cfg.Level
	if logLevel != "" {
		level = logLevel
	}
	format := cfg.Format
	if logFormat != "" {
		format = logFormat
	}

	ctx := logging.WithLogger(cmd.Context(), logging.New(cmd.ErrOrStderr(), level, format))
	return logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))
}
