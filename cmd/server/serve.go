package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"nexus/backend/internal/api"
	"nexus/backend/internal/auth"
	"nexus/backend/internal/config"
	"nexus/backend/internal/logging"
	"nexus/backend/internal/mcp"
	"nexus/backend/internal/tls"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server exposing the workflow REST API under /api, the MCP
tools under /mcp and the unauthenticated /health, /openapi.yaml and /docs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"auth_mode", cfg.Auth.Mode,
		"db_driver", cfg.DB.Driver,
		"generation_provider", cfg.Generation.Provider,
	)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize store", "error", err)
		return err
	}
	defer closeStore(store, logger)
	logger.Info("Store ready")

	workflows, closeCache, err := newWorkflowService(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		return err
	}
	defer closeCache()

	authz, err := auth.New(ctx, cfg, logger.WithModule("auth"))
	if err != nil {
		logger.Error("Failed to initialize auth", "error", err)
		return err
	}

	e := newEcho(cfg, logger)

	api.Mount(e, api.RouterOptions{
		Server:      api.NewServer(workflows, logger.WithModule("api")),
		Handler:     api.NewHandler(store, logger.WithModule("api")),
		RequireAuth: authz.RequireAuth,
		Issuer:      issuerFor(cfg),
		Logger:      logger.WithModule("api"),
	})
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(workflows, api.Version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer)
	e.Any("/mcp/*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))
	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			generated, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- err
				return
			}
			if generated {
				logger.Warn("Generated a self-signed certificate", "cert_file", cfg.TLS.CertFile)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// in-flight workflow runs see their request context cancelled and store
	// nothing
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func newEcho(cfg *config.Config, logger *logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType},
		AllowCredentials: true,
	}))
	e.Use(otelecho.Middleware("nexus"))

	httpLogger := logger.WithModule("http")
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				httpLogger.Warn("request failed", append(args, "error", v.Error)...)
				return nil
			}
			httpLogger.Info("request", args...)
			return nil
		},
	}))
	return e
}

func issuerFor(cfg *config.Config) string {
	if cfg.Auth.Mode == "oidc" {
		return cfg.Auth.OIDCIssuer
	}
	if cfg.Auth.Issuer != "" {
		return cfg.Auth.Issuer
	}
	return "the configured identity provider"
}
