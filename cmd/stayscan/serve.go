package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stayscan/internal/identity"
	"github.com/dukerupert/stayscan/internal/imagestore"
	"github.com/dukerupert/stayscan/internal/retry"
	"github.com/dukerupert/stayscan/internal/secret"
	"github.com/dukerupert/stayscan/internal/server"
)

const (
	limiterCleanupInterval = 10 * time.Minute
	ledgerPruneInterval    = 24 * time.Hour
	ledgerRetentionDays    = 30
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	verifier, err := identity.NewVerifier(cfg.IdentityIssuer, cfg.IdentityAudience, cfg.IdentityJWKSURL)
	if err != nil {
		return fmt.Errorf("identity verifier: %w", err)
	}
	box, err := secret.NewBox(cfg.DataEncryptionKey)
	if err != nil {
		return fmt.Errorf("data encryption: %w", err)
	}
	images := imagestore.New(imagestore.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PublicURL: cfg.S3PublicURL,
	})
	if images == nil {
		logger.Warn("image storage not configured, uploads disabled")
	}

	srv := server.New(server.Deps{
		DB:            a.db,
		Verifier:      verifier,
		Webhooks:      a.webhooks,
		Checkout:      a.checkout,
		Subscriptions: a.subscriptions,
		Catalog:       a.catalog,
		Box:           box,
		Images:        images,
		Hub:           a.hub,
		AppURL:        cfg.AppURL,
		Policy:        retry.Default,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srv.RateLimiter().StartCleanup(ctx, limiterCleanupInterval)
	go pruneLedger(ctx, a)
	if cfg.ReconcileInterval > 0 {
		go sweepLoop(ctx, a, cfg.ReconcileInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stayscan starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweepLoop pulls every linked subscription on a fixed interval, catching
// changes whose webhooks never arrived.
func sweepLoop(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			res, err := a.reconciler.Sweep(ctx, 0)
			if err != nil {
				logger.Error("reconcile sweep", "error", err)
				continue
			}
			logger.Info("reconcile sweep", "checked", res.Checked, "updated", res.Updated, "failed", res.Failed)
		case <-ctx.Done():
			return
		}
	}
}

func pruneLedger(ctx context.Context, a *app) {
	ticker := time.NewTicker(ledgerPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := a.ledger.DeleteProcessedBefore(ctx, ledgerRetentionDays); err != nil {
				logger.Error("prune webhook ledger", "error", err)
			} else if n > 0 {
				logger.Info("pruned webhook ledger", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
