package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/harliandi/go-shrink/internal/config"
	"github.com/harliandi/go-shrink/internal/handler"
	"github.com/harliandi/go-shrink/internal/middleware"
	"github.com/harliandi/go-shrink/internal/reducer"
	"github.com/harliandi/go-shrink/pkg/jpeg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		port    int
		workers int
		encoder string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP reduction API",
		Long: `Starts the HTTP API. Settings come from environment variables
(PORT, TARGET_SIZE_KB, WORKER_COUNT, ENCODER, ...); flags override them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("workers") {
				cfg.WorkerCount = workers
			}
			if cmd.Flags().Changed("encoder") {
				cfg.Encoder = encoder
			}

			srv, err := newServer(cfg, root.verbose)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.run(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port (overrides PORT)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 10, "reduction workers (overrides WORKER_COUNT)")
	cmd.Flags().StringVarP(&encoder, "encoder", "e", "std", "encoder backend: std or jpegli (overrides ENCODER)")
	return cmd
}

// server owns the HTTP server and the resources behind it.
type server struct {
	cfg     *config.Config
	httpSrv *http.Server
	pool    *reducer.WorkerPool
	limiter *middleware.RateLimiter
}

func newServer(cfg *config.Config, verbose bool) (*server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc, err := jpeg.ByName(cfg.Encoder)
	if err != nil {
		return nil, err
	}

	r := reducer.New(enc, cfg.SearchOptions(),
		reducer.WithCache(reducer.NewCache(cfg.CacheEntries)),
		reducer.WithTimeout(cfg.SearchTimeout),
		reducer.WithAttemptLogging(verbose),
	)
	pool := reducer.NewWorkerPool(r, cfg.WorkerCount)
	pool.Start()

	h := handler.New(pool, cfg.TargetBytes(), cfg.MaxUploadMB)

	mux := http.NewServeMux()
	mux.HandleFunc("/reduce", h.Reduce)
	mux.HandleFunc("/health", h.Health)
	mux.Handle("/metrics", promhttp.Handler())

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst)

	// Outermost first
	chain := middleware.Chain(mux,
		middleware.Security,
		limiter.Middleware,
		middleware.NewConcurrencyLimiter(cfg.MaxConcurrent).Middleware,
		middleware.Recovery,
		middleware.Logger,
	)

	// Writes must outlive the slowest allowed search
	writeTimeout := max(60*time.Second, cfg.SearchTimeout+30*time.Second)

	return &server{
		httpSrv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      chain,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  120 * time.Second,
		},
		cfg:     cfg,
		pool:    pool,
		limiter: limiter,
	}, nil
}

// run serves until ctx is done, then drains requests and workers.
func (s *server) run(ctx context.Context) error {
	log.Printf("Starting image reduction API on %s", s.httpSrv.Addr)
	log.Printf("Target size: %dKB, Max upload: %dMB, Max concurrent: %d, Rate limit: %d/sec, Workers: %d, Encoder: %s",
		s.cfg.TargetSizeKB, s.cfg.MaxUploadMB, s.cfg.MaxConcurrent, s.cfg.RateLimitPerSec, s.cfg.WorkerCount, s.cfg.Encoder)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpSrv.Shutdown(shutdownCtx)
	s.close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *server) close() {
	s.pool.Stop()
	s.limiter.Stop()
}
