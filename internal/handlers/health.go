package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type HealthResponse struct {
	Status       string `json:"status"`
	Provider     string `json:"provider"`
	AIConfigured bool   `json:"aiConfigured"`
	DemoMode     bool   `json:"demoMode"`
	Database     bool   `json:"database"`
	MarketLoader bool   `json:"marketLoader"`
	MarketStream bool   `json:"marketStream"`
}

// Health возвращает статус сервиса и включенных подсистем.
func Health(info HealthResponse) echo.HandlerFunc {
	info.Status = "ok"
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, info)
	}
}
