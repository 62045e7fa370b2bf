package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"image-proxy-go/internal/client"
	"image-proxy-go/internal/metrics"
	"image-proxy-go/internal/model"
	"image-proxy-go/internal/service"
	"image-proxy-go/internal/validator"
)

// ImageHandler serves GET /proxy/image?url=<target>.
type ImageHandler struct {
	service *service.ImageProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewImageHandler creates an ImageHandler.
// The metrics parameter is optional; pass nil to disable relayed byte counting.
func NewImageHandler(svc *service.ImageProxyService, logger *slog.Logger, m *metrics.Metrics) *ImageHandler {
	return &ImageHandler{
		service: svc,
		logger:  logger.With("component", "image_handler"),
		metrics: m,
	}
}

// Handle resolves the target image and streams it back to the client.
// Exactly one response is written per request.
func (h *ImageHandler) Handle(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Missing url query parameter"})
	}

	resp, err := h.service.Resolve(c.Request().Context(), target)
	if err != nil {
		return h.mapError(c, err)
	}

	return h.relay(c, resp)
}

// mapError writes the JSON error for err. The service has already logged it.
func (h *ImageHandler) mapError(c echo.Context, err error) error {
	var statusErr *service.UpstreamStatusError
	var transportErr *client.TransportError

	switch {
	case errors.Is(err, validator.ErrInvalidURL):
		return c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid URL"})

	case errors.Is(err, validator.ErrHostNotAllowed):
		return c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "URL not allowed"})

	case errors.Is(err, service.ErrTooManyRedirects):
		return c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: "Too many redirects"})

	case errors.As(err, &statusErr):
		return c.JSON(http.StatusBadGateway, model.ErrorResponse{
			Error:  "Upstream error",
			Status: statusErr.Status,
		})

	case errors.Is(err, service.ErrNotAnImage):
		return c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: "Upstream did not return an image"})

	case errors.As(err, &transportErr):
		return c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "Proxy error",
			Details: transportErr.Details(),
		})
	}

	return c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Proxy error"})
}
