// Package cmd defines and implements the CLI commands for the instafix executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/instafix/internal/app"
	"github.com/JakeFAU/instafix/internal/cache"
	"github.com/JakeFAU/instafix/internal/config"
	"github.com/JakeFAU/instafix/internal/logging"
	"github.com/JakeFAU/instafix/internal/post"
)

// Service is what the commands need from the application container. Tests
// substitute a fake through newService.
type Service interface {
	Handler() http.Handler
	Sweeper() cache.Sweeper
	Warm(ctx context.Context) (int, error)
	Resolve(ctx context.Context, postID string) post.Post
	Close() error
}

var newService = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Service, error) {
	return app.New(ctx, cfg, logger)
}

type runtimeKey struct{}

// runtime is the loaded configuration and logger shared by subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

func runtimeFrom(ctx context.Context) (runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(runtime)
	if !ok {
		return runtime{}, errors.New("configuration not loaded")
	}
	return rt, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "instafix",
		Short: "Resolves posts into embeddable records and serves them over HTTP.",
		Long: `instafix fetches a post's public embed page, extracts its author, caption
and media through a chain of strategies, caches the result, and serves
JSON, media redirects and composed image grids.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := runtimeFrom(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); INSTAFIX_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newShortcodeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "instafix: %v\n", err)
		os.Exit(1)
	}
}
