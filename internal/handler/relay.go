package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"image-proxy-go/internal/model"
)

// relay writes the filtered headers and streams the body to the client.
// The upstream body is closed on every path. When the client goes away the
// request context is canceled, which aborts the upstream read, and the
// failed write ends the copy.
func (h *ImageHandler) relay(c echo.Context, resp *model.RelayedResponse) error {
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	c.Response().WriteHeader(http.StatusOK)

	n, err := io.Copy(c.Response(), resp.Body)
	if h.metrics != nil {
		h.metrics.BytesRelayed.Add(float64(n))
	}
	if err != nil {
		h.logger.Warn("image stream interrupted",
			"err", err,
			"bytes", n,
			"path", c.Request().URL.Path,
		)
		// The 200 is already sent. Abort the connection so the client sees a
		// broken transfer, not a cleanly terminated short body. Recover
		// re-panics http.ErrAbortHandler.
		panic(http.ErrAbortHandler)
	}

	return nil
}
