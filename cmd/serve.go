package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mpsdash/internal/bootstrap"
	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
	"mpsdash/internal/transport/web"
	"mpsdash/internal/usecase/catalog"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API over HTTP",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr, _ := cmd.Flags().GetString("addr")
		if strings.TrimSpace(addr) == "" {
			addr = app.Config.Server.Addr
		}
		endpointsFile, _ := cmd.Flags().GetString("endpoints")
		if strings.TrimSpace(endpointsFile) == "" {
			endpointsFile = app.Config.Server.EndpointsFile
		}

		watcher, err := catalog.NewWatcher(endpointsFile)
		if err != nil {
			logging.Error(ctx, "load endpoint catalog failed", slog.String("path", endpointsFile), slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "load endpoint catalog")
		}
		logging.Info(ctx, "endpoint catalog loaded",
			slog.String("path", endpointsFile),
			slog.Int("endpoints", watcher.Catalog().Len()),
		)

		handler := web.NewHandler(app.Gateway, watcher)
		server := web.NewServer(ctx, handler.Router(), web.ServerOptions{
			Addr:         addr,
			ReadTimeout:  app.Config.Server.ReadTimeout,
			WriteTimeout: app.Config.Server.WriteTimeout,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.Run(gctx, shutdownTimeout)
		})
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				// Hot reload is a convenience; the loaded catalog keeps serving.
				logging.Warn(gctx, "endpoint catalog watcher stopped", slog.Any("err", errs.Loggable(err)))
			}
			return nil
		})
		g.Go(func() error {
			app.Cleaner.Start(gctx)
			return nil
		})

		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return errs.Wrap(err, "serve")
		}
		logging.Info(ctx, "serve stopped")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default server.addr)")
	serveCmd.Flags().String("endpoints", "", "Endpoint catalog TOML (default server.endpoints_file)")
}
