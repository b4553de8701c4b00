// Command sealedchat serves one-to-one encrypted messaging over HTTP and
// WebSocket.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pliu/sealedchat/internal/auth"
	"github.com/pliu/sealedchat/internal/chat"
	"github.com/pliu/sealedchat/internal/config"
	"github.com/pliu/sealedchat/internal/handlers"
	"github.com/pliu/sealedchat/internal/metrics"
	"github.com/pliu/sealedchat/internal/realtime"
	"github.com/pliu/sealedchat/internal/store/sqlstore"
)

const (
	Version = "0.1.0"
	appName = "sealedchat"

	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v, configPath)
		},
	}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Encrypted one-to-one chat server",
		Long: `sealedchat serves consent-gated direct messaging: users exchange
chat requests, accepted pairs share a room, and messages are stored
sealed with AES-GCM and pushed to connected sessions in real time.`,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	pf.String("addr", ":8080", "HTTP listen address")
	pf.String("db-driver", "sqlite3", "Database driver (sqlite3, postgres, pgx)")
	pf.String("db-dsn", "sealedchat.db", "Database data source name")
	pf.String("realtime", "memory", "Realtime backend (memory, redis, nats)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	for key, flag := range map[string]string{
		"addr":             "addr",
		"database.driver":  "db-driver",
		"database.dsn":     "db-dsn",
		"realtime.backend": "realtime",
		"log.level":        "log-level",
	} {
		_ = v.BindPFlag(key, pf.Lookup(flag))
	}

	cmd.AddCommand(serve)
	cmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Print a random cookie secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(b))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper, configPath string) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	broker, err := newBroker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect realtime backend: %w", err)
	}
	dist := realtime.New(broker, logger, m)
	defer dist.Close()

	signer, err := auth.NewSigner(cfg.Auth.CookieSecret)
	if err != nil {
		return err
	}

	svc := chat.New(store, dist, logger, m)
	router := handlers.NewRouter(handlers.Deps{
		Store:    store,
		Chat:     svc,
		Dist:     dist,
		Signer:   signer,
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "database", cfg.Database.Driver, "realtime", cfg.Realtime.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBroker(ctx context.Context, cfg *config.Config) (realtime.Broker, error) {
	switch cfg.Realtime.Backend {
	case "redis":
		return realtime.NewRedisBroker(ctx, cfg.Redis.URL)
	case "nats":
		return realtime.NewNATSBroker(cfg.NATS.URL)
	default:
		return realtime.NewMemoryBroker(cfg.Realtime.Buffer), nil
	}
}
