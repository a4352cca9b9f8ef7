package server

import (
	"github.com/labstack/echo/v4"

	"example.com/click/backend/internal/handlers"
)

type routes struct {
	health          echo.HandlerFunc
	grok            *handlers.GrokProxyHandler
	ai              *handlers.AIHandler
	market          *handlers.MarketHandler
	admin           *handlers.AdminHandler
	adminMiddleware echo.MiddlewareFunc
	aiRateLimiter   echo.MiddlewareFunc
}

func registerRoutes(e *echo.Echo, r routes) {
	e.GET("/health", r.health)

	api := e.Group("/api")

	// Прокси сам отвечает 405 на методы кроме POST.
	api.Any("/grok", r.grok.Proxy, r.aiRateLimiter)
	api.POST("/predictions", r.ai.Predict, r.aiRateLimiter)
	api.POST("/advisor", r.ai.Advise, r.aiRateLimiter)

	api.GET("/quotes", r.market.QuoteList)
	api.GET("/quotes/:symbol", r.market.Quote)

	marketGroup := api.Group("/market")
	marketGroup.GET("/status", r.market.Status)
	marketGroup.POST("/reload", r.market.Reload)
	marketGroup.GET("/stream", r.market.Stream)

	if r.admin == nil {
		return
	}

	admin := api.Group("/admin", r.adminMiddleware)
	admin.GET("/ai-requests", r.admin.ListAIRequests)
	admin.GET("/usage", r.admin.Usage)
}
