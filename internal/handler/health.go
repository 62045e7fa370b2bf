package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"image-proxy-go/internal/service"
	"image-proxy-go/internal/validator"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	hosts   *validator.AllowedHosts
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(hosts *validator.AllowedHosts, v Version) *HealthHandler {
	return &HealthHandler{hosts: hosts, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. Only the number of allowed hosts
// is reported, never their names.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       string(h.version),
		"allowed_hosts": h.hosts.Len(),
		"max_redirects": service.MaxRedirects,
	})
}
