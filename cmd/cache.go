package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mpsdash/internal/bootstrap"
	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
	"mpsdash/internal/ports"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the response and token caches",
}

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove expired and corrupted cache slots (run from cron)",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		reports := app.Cleaner.RunOnce(cmd.Context())
		return writeGCReports(cmd.OutOrStdout(), reports)
	}),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every response slot; --tokens also drops the stored OAuth token",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := cmd.Context()
		withTokens, _ := cmd.Flags().GetBool("tokens")

		targets := map[string]ports.Cache{"responses": app.Caches.Responses}
		if withTokens {
			targets["tokens"] = app.Caches.Tokens
		}

		var failed []string
		for _, name := range sortedNames(targets) {
			if !targets[name].Clear(ctx) {
				failed = append(failed, name)
				continue
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "cleared %s cache\n", name); err != nil {
				return errs.Wrap(err, "write clear output")
			}
		}
		if len(failed) > 0 {
			logging.Error(ctx, "cache clear incomplete", slog.String("caches", strings.Join(failed, ",")))
			return fmt.Errorf("clear failed for %s (disabled or unwritable cache)", strings.Join(failed, ", "))
		}
		return nil
	}),
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete one response cache entry by key",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		key, _ := cmd.Flags().GetString("key")
		if strings.TrimSpace(key) == "" {
			return errors.New("key is required")
		}

		if !app.Caches.Responses.Delete(cmd.Context(), key) {
			return fmt.Errorf("delete cache entry %q failed", key)
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key); err != nil {
			return errs.Wrap(err, "write delete output")
		}
		return nil
	}),
}

func writeGCReports(w io.Writer, reports map[string]ports.GCReport) error {
	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := reports[name]
		if _, err := fmt.Fprintf(w, "%s: scanned=%d expired=%d corrupted=%d failed=%d\n",
			name, r.Scanned, r.Expired, r.Corrupted, r.Failed); err != nil {
			return errs.Wrap(err, "write gc output")
		}
	}
	return nil
}

func sortedNames(m map[string]ports.Cache) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheGCCmd, cacheClearCmd, cacheDeleteCmd)

	cacheClearCmd.Flags().Bool("tokens", false, "Also clear the token cache")
	cacheDeleteCmd.Flags().String("key", "", "Cache key, e.g. api_response:<sha256>")
	_ = cacheDeleteCmd.MarkFlagRequired("key")
}
