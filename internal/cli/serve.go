package cli

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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/evcraddock/incident-board/internal/auth"
	"github.com/evcraddock/incident-board/internal/config"
	"github.com/evcraddock/incident-board/internal/logging"
	"github.com/evcraddock/incident-board/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI",
		Long:  "Start an HTTP server for the web UI. Settings come from the config file, .env and IB_* environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 3000, "port to listen on (overrides config)")

	return cmd
}

func runServe(cfg config.Config) error {
	logging.Setup(cfg.DevMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	slog.Info("server starting",
		"addr", cfg.Addr(),
		"store", cfg.Store,
		"sessions", cfg.SessionStore,
		"passkeys", cfg.PasskeysEnabled(),
	)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listening on %s: %w", cfg.Addr(), err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// app is the fully wired web server and the resources it holds open.
type app struct {
	handler http.Handler
	stores  *stores
	redis   *redis.Client
}

// newApp opens the configured backends and builds the HTTP handler.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	s, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{stores: s}

	sessions, err := a.openSessions(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	hasher, err := auth.NewHasher(cfg.BcryptCost)
	if err != nil {
		a.close()
		return nil, err
	}

	manager := auth.NewManager(s.users, sessions, hasher, auth.Options{
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: cfg.SecureCookies,
	})

	webCfg := web.Config{
		Manager:       manager,
		Users:         s.users,
		Posts:         s.posts,
		Limiter:       auth.NewLoginLimiter(cfg.LoginMaxFailures),
		SecureCookies: cfg.SecureCookies,
	}
	if cfg.PasskeysEnabled() {
		webCfg.Passkeys = auth.NewPasskeyStore(s.sqlite)
		webCfg.BaseURL = cfg.BaseURL
	}

	srv, err := web.NewServer(webCfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.handler = logging.RequestLogger(srv)
	return a, nil
}

// openSessions returns the configured session backend. Expired SQLite
// sessions are purged at startup.
func (a *app) openSessions(ctx context.Context, cfg config.Config) (auth.SessionBackend, error) {
	if cfg.SessionStore == config.StoreRedis {
		rdb, err := auth.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		return auth.NewRedisSessionStore(rdb), nil
	}

	sessions := auth.NewSessionStore(a.stores.sqlite)
	if err := sessions.Cleanup(ctx); err != nil {
		slog.Warn("cleaning up expired sessions", "err", err)
	}
	return sessions, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing redis: %v\n", err)
		}
	}
	a.stores.close()
}
