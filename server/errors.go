package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wudi/pdfedit/observability"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handleError writes every failure as {"error": msg}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			observability.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			observability.String("path", c.Request().URL.Path),
			observability.Error("error", err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn("write error response", observability.Error("error", err))
	}
}
