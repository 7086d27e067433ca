// Package main is the entry point for the sellsync binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	airtableadapter "github.com/mlaurent/sellsync/internal/adapter/driven/airtable"
	"github.com/mlaurent/sellsync/internal/adapter/driven/secrets"
	sellsyadapter "github.com/mlaurent/sellsync/internal/adapter/driven/sellsy"
	sqliteadapter "github.com/mlaurent/sellsync/internal/adapter/driven/sqlite"
	httphandler "github.com/mlaurent/sellsync/internal/adapter/driving/http"
	"github.com/mlaurent/sellsync/internal/application"
	"github.com/mlaurent/sellsync/internal/config"
	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
	"github.com/mlaurent/sellsync/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for sellsync.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sellsync",
		Short:         "Synchronize Airtable client records into Sellsy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newRunCmd(), newInitTokensCmd())
	return root
}

// services bundles everything the commands wire up.
type services struct {
	cfg       *config.Config
	db        *sqliteadapter.DB
	runStore  driven.RunStore
	tokens    driven.TokenStore
	secrets   driven.SecretStore
	syncSvc   *application.SyncService
	healthSvc *application.HealthService
	metrics   *metrics.Metrics
}

// buildServices loads configuration, opens the database, runs migrations, and
// wires adapters and services. withMetrics is false for one-shot commands.
func buildServices(ctx context.Context, withMetrics bool) (*services, error) {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sync_interval", cfg.SyncInterval,
		"secret_backend", cfg.SecretBackend,
	)

	mapping, err := config.LoadFieldMapping(cfg.MappingPath)
	if err != nil {
		return nil, err
	}

	// 2. Open database (dual reader/writer with WAL mode) and migrate.
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	// 3. Wire driven adapters.
	runStore := sqliteadapter.NewRunRepo(db)
	tokenStore := sqliteadapter.NewTokenRepo(db, cfg.SecretKey)

	var secretStore driven.SecretStore
	switch cfg.SecretBackend {
	case config.SecretBackendAWSSM:
		secretStore, err = secrets.NewAWSStore(ctx, cfg.AWSSecretID)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	default:
		secretStore = secrets.NewEnvStore()
	}

	var m *metrics.Metrics
	if withMetrics {
		m = metrics.NewMetrics()
	}

	// 4. Wire application services.
	syncSvc := application.NewSyncService(
		secretStore,
		sellsyadapter.NewAuthenticator(),
		sellsyadapter.NewClient(),
		tokenStore,
		runStore,
		m,
		func(apiKey, baseID, tableName string) driven.AirtableClient {
			return airtableadapter.NewClient(apiKey, baseID, tableName)
		},
		mapping,
		cfg.FilterFormula,
	)
	healthSvc := application.NewHealthService(runStore, cfg.SyncInterval)

	return &services{
		cfg:       cfg,
		db:        db,
		runStore:  runStore,
		tokens:    tokenStore,
		secrets:   secretStore,
		syncSvc:   syncSvc,
		healthSvc: healthSvc,
		metrics:   m,
	}, nil
}

func (s *services) close() {
	if err := s.db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// newServeCmd creates the long-running mode: scheduler plus HTTP API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcs, err := buildServices(ctx, true)
			if err != nil {
				return err
			}
			defer svcs.close()

			// Scheduler fires an immediate run, then every interval.
			scheduler := application.NewScheduler(svcs.syncSvc, svcs.cfg.SyncInterval)
			go scheduler.Start(ctx)

			apiHandler := httphandler.NewHandler(svcs.runStore, svcs.syncSvc, svcs.healthSvc, slog.Default())
			handler := httphandler.NewServeMux(apiHandler, svcs.metrics.Handler(), slog.Default())

			srv := &http.Server{
				Addr:              svcs.cfg.ListenAddr,
				Handler:           handler,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				// Generous write timeout: a manual trigger blocks until the run finishes.
				WriteTimeout: 10 * time.Minute,
				IdleTimeout:  120 * time.Second,
			}

			go func() {
				slog.Info("http server starting", "addr", svcs.cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("http server error", "error", err)
				}
			}()

			slog.Info("sellsync started", "sync_interval", svcs.cfg.SyncInterval)

			<-ctx.Done()
			slog.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("http server shutdown error", "error", err)
			}

			slog.Info("shutdown complete")
			return nil
		},
	}
}

// newRunCmd creates the one-shot mode. The process exits non-zero when the
// run fails, preserving the exit code contract of the previous automation.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute a single sync run and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcs, err := buildServices(ctx, false)
			if err != nil {
				return err
			}
			defer svcs.close()

			_, err = svcs.syncSvc.Execute(ctx, model.TriggerManual)
			return err
		},
	}
}

// newInitTokensCmd creates the standalone token initialization command. The
// flag names match the previous automation's token script.
func newInitTokensCmd() *cobra.Command {
	var (
		clientID     string
		clientSecret string
		updateEnv    bool
	)

	cmd := &cobra.Command{
		Use:   "init-tokens",
		Short: "Obtain Sellsy OAuth2 tokens with the client_credentials grant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcs, err := buildServices(ctx, false)
			if err != nil {
				return err
			}
			defer svcs.close()

			// Fall back to the secret store when flags are omitted.
			if clientID == "" {
				if clientID, err = svcs.secrets.Get(ctx, model.SecretSellsyClientID); err != nil {
					return err
				}
			}
			if clientSecret == "" {
				if clientSecret, err = svcs.secrets.Get(ctx, model.SecretSellsyClientSecret); err != nil {
					return err
				}
			}

			token, err := svcs.syncSvc.InitTokens(ctx, clientID, clientSecret, updateEnv)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "access token obtained (prefix %s..., expires %s)\n",
				tokenPrefix(token.AccessToken), token.ExpiresAt.Format(time.RFC3339))
			if updateEnv {
				fmt.Fprintln(cmd.OutOrStdout(), "token persisted; subsequent runs will reuse it until expiry")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client_id", "", "OAuth2 client id (defaults to SELLSY_CLIENT_ID from the secret store)")
	cmd.Flags().StringVar(&clientSecret, "client_secret", "", "OAuth2 client secret (defaults to SELLSY_CLIENT_SECRET from the secret store)")
	cmd.Flags().BoolVar(&updateEnv, "update_env", false, "Persist the obtained token for subsequent runs")

	return cmd
}

// tokenPrefix returns the first characters of a token for display. Never log
// or print the full value.
func tokenPrefix(token string) string {
	const n = 10
	if len(token) <= n {
		return token
	}
	return token[:n]
}
