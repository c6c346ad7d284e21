package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blacktop/xpostd/internal/events"
	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/media"
	"github.com/blacktop/xpostd/internal/orchestrator"
	"github.com/blacktop/xpostd/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var (
	addrFlag    string
	originsFlag string
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the publish HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides XPOSTD_ADDR)")
	cmd.Flags().StringVar(&originsFlag, "cors-origins", "", "Comma separated CORS origins (default any)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addrFlag != "" {
		cfg.Addr = addrFlag
	}

	posts, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer posts.Close()

	registry, manager := buildRegistry(cfg)

	var opts []orchestrator.Option
	if cfg.NatsURL != "" {
		notifier, nc, err := events.Connect(cfg.NatsURL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		opts = append(opts, orchestrator.WithNotifier(notifier))
		logutil.Infof("publishing events to %s", cfg.NatsURL)
	}

	deps := server.Deps{
		Publisher:    orchestrator.New(registry, posts, opts...),
		Registry:     registry,
		Posts:        posts,
		Media:        media.New(media.Config{Dir: cfg.MediaDir, PublicBaseURL: cfg.PublicURL}),
		MediaDir:     cfg.MediaDir,
		AllowOrigins: originsFlag,
	}
	if manager != nil {
		deps.OAuth = manager
	}
	srv := server.New(deps)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(cfg.Addr) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logutil.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
