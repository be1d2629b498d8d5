package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nexora/internal/auth"
	"nexora/internal/config"
	"nexora/internal/data"
	"nexora/internal/db"
	"nexora/internal/handlers"
	"nexora/internal/logging"
	"nexora/internal/query"
	"nexora/internal/supabase"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nexora",
	Short: "Nexora - a community posting board on a hosted backend",
	Long: `Nexora serves a feed of posts, a communities directory and
create forms for signed-in visitors. Posts, communities, images and
accounts live in a Supabase project; the server keeps only visitor
sessions locally.

Run without a subcommand to start the web server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "nexora.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, postsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newBackend() *supabase.Client {
	return supabase.New(cfg.Supabase.URL, cfg.Supabase.AnonKey, supabase.WithLogger(logger))
}

func newStore(backend *supabase.Client) *data.Store {
	return data.New(backend, logger, data.Options{
		PostsRPC: cfg.Supabase.PostsRPC,
		Bucket:   cfg.Supabase.Bucket,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		logger.Error("startup check failed", zap.Error(err))
		return err
	}
	maxAge, _ := cfg.SessionMaxAge()

	dbc, err := db.Open(cfg.Session.DBPath)
	if err != nil {
		return err
	}
	defer dbc.Close()
	if err := db.Migrate(dbc); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := newBackend()
	sessions := auth.NewManager(auth.NewStore(dbc, cfg.Session.Secret), backend, auth.Options{
		ProviderName: cfg.Supabase.AuthProvider,
		RedirectURL:  cfg.RedirectURL(),
		MaxAge:       maxAge,
		SecureCookie: strings.HasPrefix(cfg.PublicURL, "https://"),
	}, logger)
	if err := sessions.Start(ctx); err != nil {
		return err
	}

	h := handlers.New(newStore(backend), query.NewCache(logger), sessions, logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("backend", backend.BaseURL()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
