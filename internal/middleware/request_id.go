package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/reqctx"
)

const HeaderRequestID = "X-Request-ID"

// RequestID propagates or assigns a correlation id and stores it on the
// request context.
func RequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		rid := c.Request().Header.Get(HeaderRequestID)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Response().Header().Set(HeaderRequestID, rid)
		req := c.Request()
		c.SetRequest(req.WithContext(reqctx.WithRID(req.Context(), rid)))
		return next(c)
	}
}
