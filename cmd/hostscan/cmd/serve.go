package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/hostscan/internal/api"
	"github.com/psantana5/hostscan/pkg/auth"
	"github.com/psantana5/hostscan/pkg/ratelimit"
	"github.com/psantana5/hostscan/pkg/shutdown"
	hstls "github.com/psantana5/hostscan/pkg/tls"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP agent",
	Long: `Serves scans over HTTP so fleet tooling can trigger them remotely.

  GET  /health
  GET  /v1/checks?tier=
  POST /v1/scans?tier=&sequential=&max_concurrency=&checks=&format=
  GET  /v1/scans/last
  GET  /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", ":9182", "listen address")
	bindFlag(serveCmd, "serve.listen", "listen")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, "serve")
	if err != nil {
		return err
	}

	eng, err := newEngine(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	keys, err := auth.NewKeyStore(cfg.Serve.APIKeyHashes...)
	if err != nil {
		return fmt.Errorf("serve.api_key_hashes: %w", err)
	}
	if keys.Len() == 0 {
		logger.Warn("No API keys configured; /v1 routes are open to any caller")
	}

	limiter := ratelimit.NewLimiter(cfg.Serve.RateLimitRPS, cfg.Serve.RateLimitBurst)
	handler := api.NewHandler(eng.controller, eng.registry, limiter, eng.tracer, logger.WithField("component", "api"))
	handler.SetKeyStore(keys)

	server := &http.Server{
		Addr:              cfg.Serve.Listen,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Serve.TLSCert != "" {
		if server.TLSConfig, err = hstls.LoadServerConfig(cfg.Serve.TLSCert, cfg.Serve.TLSKey, cfg.Serve.TLSClientCA); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// evict idle per-client limiters
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.CleanupOldLimiters(10 * time.Minute); n > 0 {
					logger.Debug(fmt.Sprintf("Removed %d idle rate limiters", n))
				}
			}
		}
	}()

	sm := shutdown.New(cfg.Serve.ShutdownTimeout, logger)
	sm.Register("logger", shutdown.CloseResource(logger))
	sm.Register("tracer", eng.tracer.Shutdown)
	sm.Register("running scan", shutdown.WaitFor(func() bool { return !handler.Busy() }, 250*time.Millisecond))
	sm.Register("http server", shutdown.StopHTTPServer(server))

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			logger.Info(fmt.Sprintf("hostscan agent listening on %s (TLS)", cfg.Serve.Listen))
			err = server.ListenAndServeTLS("", "")
		} else {
			logger.Info(fmt.Sprintf("hostscan agent listening on %s", cfg.Serve.Listen))
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	if err := sm.WaitWithContext(ctx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
