package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"example.com/click/backend/internal/auth"
	"example.com/click/backend/internal/config"
	"example.com/click/backend/internal/handlers"
	"example.com/click/backend/internal/repository"
)

const bodyLimit = "1M"

// New собирает HTTP-сервер Echo с роутами и зависимостями.
// ctx ограничивает фоновые задачи, запущенные обработчиками.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, services *Services) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(corsMiddleware(cfg.CORS))
	e.Use(middleware.BodyLimit(bodyLimit))

	var aiLog handlers.RequestLogger
	var adminHandler *handlers.AdminHandler
	var adminMiddleware echo.MiddlewareFunc
	if services.DB != nil {
		aiLog = repository.NewAIRepository(services.DB)
		adminHandler = handlers.NewAdminHandler(repository.NewAdminRepository(services.DB))
		adminMiddleware = auth.AdminMiddleware(auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.JWTIssuer, cfg.Admin.TokenTTL))
	}

	var loader handlers.MarketLoader
	if cfg.Market.LoaderEnabled {
		loader = services.Loader
	}

	health := handlers.Health(handlers.HealthResponse{
		Provider:     services.AI.Provider(),
		AIConfigured: cfg.AI.APIKey != "",
		DemoMode:     cfg.Prediction.UseFallbackData,
		Database:     services.DB != nil,
		MarketLoader: cfg.Market.LoaderEnabled,
		MarketStream: cfg.Market.StreamEnabled && cfg.Market.APIKey != "",
	})

	registerRoutes(e, routes{
		health:          health,
		grok:            handlers.NewGrokProxyHandler(services.Grok, logger),
		ai:              handlers.NewAIHandler(services.AI, aiLog, logger),
		market:          handlers.NewMarketHandler(ctx, services.Quotes, loader, services.Hub, logger),
		admin:           adminHandler,
		adminMiddleware: adminMiddleware,
		aiRateLimiter:   aiRateLimiter(cfg.AI),
	})

	return e
}

// NewHTTPServer создает net/http сервер с заданными таймаутами.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
				slog.Duration("latency", v.Latency),
			}

			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}

			msg := "request completed"
			if v.Status >= http.StatusInternalServerError {
				logger.LogAttrs(c.Request().Context(), slog.LevelError, msg, attrs...)
				return nil
			}

			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, msg, attrs...)
			return nil
		},
	})
}

func corsMiddleware(cfg config.CORSConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
	})
}

func aiRateLimiter(cfg config.AIConfig) echo.MiddlewareFunc {
	limit := rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      limit,
		Burst:     cfg.RateLimitBurst,
		ExpiresIn: time.Minute,
	})

	return middleware.RateLimiter(store)
}
