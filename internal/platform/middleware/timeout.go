package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinic/scheduler/pkg/apperrors"
)

// RequestTimeout sets a deadline on the request context. Handlers observe
// it through ctx; a handler that returns a deadline error is reported as a
// timeout. Websocket upgrades are excluded.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || strings.HasPrefix(c.Request().URL.Path, "/ws") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return apperrors.Wrap(apperrors.CodeInternal, "request processing exceeded the allowed time limit", err)
			}
			return err
		}
	}
}
