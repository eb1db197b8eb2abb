package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/pkg/apperrors"
)

// ErrorHandler renders every error as the {code, message, details} envelope.
// Application errors keep their code; echo errors are mapped by status.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := toEnvelope(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func toEnvelope(err error) (int, apperrors.Response) {
	if _, ok := apperrors.As(err); ok {
		return apperrors.ToResponse(err)
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, apperrors.Response{Code: codeForStatus(he.Code), Message: msg}
	}
	return apperrors.ToResponse(err)
}

func codeForStatus(status int) apperrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return apperrors.CodeUnauthorized
	case http.StatusForbidden:
		return apperrors.CodeAccessDenied
	case http.StatusNotFound:
		return apperrors.CodeNotFound
	case http.StatusConflict:
		return apperrors.CodeAppointmentConflict
	case http.StatusInternalServerError:
		return apperrors.CodeInternal
	}
	if status < 500 {
		return apperrors.CodeValidation
	}
	return apperrors.CodeInternal
}
