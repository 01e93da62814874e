package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	jwtx "github.com/bionicotaku/kotomi-jwtx"
	"github.com/bionicotaku/kotomi-jwtx/middleware"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a relying service that authenticates requests per configured site",
		Long: `serve exposes GET /sites/:site/me, which answers with the caller claims of a
valid bearer token for that site, plus /healthz and /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			promRegistry := prometheus.NewRegistry()
			metrics := jwtx.NewMetrics(promRegistry)

			regCfg, err := cfg.RegistryConfig(logger, metrics)
			if err != nil {
				return err
			}
			registry, err := jwtx.NewRegistry(regCfg)
			if err != nil {
				return err
			}
			defer registry.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := registry.Warmup(warmCtx); err != nil {
				logger.Warn("jwks warmup failed", zap.Error(err))
			}
			cancel()

			watchers, err := cfg.WatchKeys(ctx, registry, logger)
			defer func() {
				for _, w := range watchers {
					_ = w.Close()
				}
			}()
			if err != nil {
				return err
			}

			server := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           newRouter(registry, promRegistry),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", server.Addr))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address (overrides server.addr)")
	return cmd
}

func newRouter(registry *jwtx.Registry, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	sites := router.Group("/sites/:site", middleware.RequireSiteAuth(registry, "site"))
	sites.GET("/me", func(c *gin.Context) {
		caller, _ := middleware.ClaimsFrom(c)
		body := gin.H{
			"site":       caller.SiteID,
			"dev_bypass": caller.DevBypass,
			"claims":     caller.Claims,
		}
		if user, ok := jwtx.IdentityFromContext(c.Request.Context()); ok {
			body["user_id"] = user.ID
		}
		c.JSON(http.StatusOK, body)
	})
	return router
}
