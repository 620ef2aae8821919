package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/labstack/echo/v4"
	zlog "github.com/rs/zerolog/log"
)

type errorBody struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	ResetAt *time.Time           `json:"reset_at,omitempty"`
	State   domain.WorkflowState `json:"state,omitempty"`
}

func statusFor(err error) (int, errorBody) {
	var (
		httpErr   *echo.HTTPError
		exhausted *domain.BudgetExhaustedError
		conflict  *domain.StateConflictError
	)

	switch {
	case errors.As(err, &httpErr):
		message, ok := httpErr.Message.(string)
		if !ok {
			message = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, errorBody{Code: "http_error", Message: message}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: err.Error()}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorBody{Code: "validation", Message: err.Error()}
	case errors.As(err, &exhausted):
		return http.StatusTooManyRequests, errorBody{Code: "budget_exhausted", Message: err.Error(), ResetAt: exhausted.ResetAt}
	case errors.Is(err, domain.ErrModeLocked):
		return http.StatusConflict, errorBody{Code: "mode_locked", Message: err.Error()}
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusConflict, errorBody{Code: "provider_unavailable", Message: err.Error()}
	case errors.As(err, &conflict):
		return http.StatusConflict, errorBody{Code: "state_conflict", Message: err.Error(), State: conflict.State}
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, errorBody{Code: "session_not_found", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Code: "internal", Message: http.StatusText(http.StatusInternalServerError)}
	}
}

func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		zlog.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, map[string]errorBody{"error": body})
}
