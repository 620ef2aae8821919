package httpapi

import (
	"net/http"
	"strings"

	"github.com/bnema/mailpilot/internal/application"
	"github.com/bnema/mailpilot/internal/domain"
	"github.com/labstack/echo/v4"
)

const userContextKey = "user"

type turnRequest struct {
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
	Mode           string `json:"mode"`
}

type moderateRequest struct {
	Prompt string `json:"prompt"`
}

// identify reads the identity the upstream authentication layer forwards.
// A missing plan header means the free plan.
func identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
		if id == "" {
			return domain.ErrUnauthenticated
		}

		plan := domain.PlanFree
		if raw := c.Request().Header.Get(HeaderUserPlan); strings.TrimSpace(raw) != "" {
			parsed, err := domain.ParsePlan(raw)
			if err != nil {
				return err
			}
			plan = parsed
		}

		c.Set(userContextKey, domain.User{ID: domain.UserID(id), Plan: plan})
		return next(c)
	}
}

func userFrom(c echo.Context) domain.User {
	user, _ := c.Get(userContextKey).(domain.User)
	return user
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) credits(c echo.Context) error {
	snapshot, err := s.admission.Credits(c.Request().Context(), userFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) modes(c echo.Context) error {
	modes, err := s.admission.Modes(c.Request().Context(), userFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"modes": modes})
}

func (s *Server) listProviders(c echo.Context) error {
	statuses, err := s.providers.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"providers": statuses})
}

func (s *Server) latestSession(c echo.Context) error {
	view, ok, err := s.admission.LatestSession(c.Request().Context(), userFrom(c))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) turn(c echo.Context) error {
	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return domain.NewValidationError("body", "must be a JSON object")
	}

	decision, err := s.admission.Admit(c.Request().Context(), application.TurnRequest{
		User:           userFrom(c),
		ConversationID: domain.ConversationID(req.ConversationID),
		Prompt:         req.Prompt,
		Mode:           domain.Mode(req.Mode),
	})
	if err != nil {
		return err
	}

	return c.JSON(decisionStatus(decision), decision)
}

func (s *Server) moderate(c echo.Context) error {
	var req moderateRequest
	if err := c.Bind(&req); err != nil {
		return domain.NewValidationError("body", "must be a JSON object")
	}
	return c.JSON(http.StatusOK, s.admission.Moderate(req.Prompt))
}

func (s *Server) conversation(c echo.Context) error {
	id, err := domain.ParseConversationID(c.Param("id"))
	if err != nil {
		return err
	}

	view, err := s.admission.Session(c.Request().Context(), userFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) checkpoints(c echo.Context) error {
	id, err := domain.ParseConversationID(c.Param("id"))
	if err != nil {
		return err
	}

	checkpoints, err := s.admission.History(c.Request().Context(), userFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"checkpoints": checkpoints})
}

func (s *Server) replay(c echo.Context) error {
	id, err := domain.ParseConversationID(c.Param("id"))
	if err != nil {
		return err
	}

	session, err := s.admission.Replay(c.Request().Context(), userFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) advance(c echo.Context) error {
	id, err := domain.ParseConversationID(c.Param("id"))
	if err != nil {
		return err
	}

	var event domain.WorkflowEvent
	if err := c.Bind(&event); err != nil {
		return domain.NewValidationError("body", "must be a workflow event")
	}

	session, err := s.admission.Advance(c.Request().Context(), application.AdvanceRequest{
		User:           userFrom(c),
		ConversationID: id,
		Event:          event,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func decisionStatus(decision application.Decision) int {
	if decision.Refusal == nil {
		return http.StatusOK
	}
	if decision.Refusal.Kind == application.RefusalBudgetExhausted {
		return http.StatusTooManyRequests
	}
	return http.StatusConflict
}
