package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/kbguard/internal/app"
	iauth "github.com/charlesng35/kbguard/internal/auth"
	"github.com/charlesng35/kbguard/pkg/logger"
)

const defaultShutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) (err error) {
	fs := flag.NewFlagSet("kbguard-server", flag.ContinueOnError)
	fs.SetOutput(stdout)

	var (
		configPath string
		issueFor   string
		tenantID   string
		tokenTTL   time.Duration
	)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")
	fs.StringVar(&issueFor, "issue-token", "", "Print an access token for the given user id and exit")
	fs.StringVar(&tenantID, "tenant", "", "Tenant for -issue-token (defaults to permission.default_tenant)")
	fs.DurationVar(&tokenTTL, "token-ttl", 0, "Lifetime for -issue-token (defaults to auth.jwt.access_token_ttl)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	defaults, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if user := strings.TrimSpace(issueFor); user != "" {
		if len(defaults.GeneratedSecrets) > 0 {
			return errors.New("auth.jwt.secret must be configured to issue tokens")
		}
		return issueToken(stdout, cfg, user, tenantID, tokenTTL)
	}

	if err := app.ConfigureLogging(cfg.Server); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for _, key := range defaults.GeneratedSecrets {
		log.Warn("generated runtime secret; tokens will not survive a restart", zap.String("key", key))
	}
	for _, adjustment := range defaults.Adjustments {
		log.Warn("configuration adjusted", zap.String("detail", adjustment))
	}

	stack, err := bootstrapRuntime(cfg, log)
	if err != nil {
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := stack.Shutdown(stopCtx); stopErr != nil {
			log.Warn("runtime shutdown incomplete", zap.Error(stopErr))
			err = multierr.Append(err, stopErr)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr), zap.String("cache_backend", stack.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func issueToken(out io.Writer, cfg *app.Config, userID, tenantID string, ttl time.Duration) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		tenantID = strings.TrimSpace(cfg.Permission.DefaultTenant)
	}
	if tenantID == "" {
		return errors.New("-tenant is required when permission.default_tenant is unset")
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTConfig())
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}
	token, err := jwtSvc.IssueToken(iauth.TokenInput{UserID: userID, TenantID: tenantID, TTL: ttl})
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
