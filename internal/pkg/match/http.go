package match

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/shopspring/decimal"
	"github.com/vreid/shobu/internal/pkg/common"
	"github.com/vreid/shobu/internal/pkg/verifier"
	"github.com/vreid/shobu/internal/pkg/wager"
)

const playerHeader = "X-Player-ID"

// HTTPService is the thin transport layer over the lifecycle core. Callers
// are authenticated upstream; this layer only reads the asserted identity.
type HTTPService struct {
	Service *Service

	AdminToken string

	validate *validator.Validate
}

func NewHTTPService(i do.Injector) (*HTTPService, error) {
	service := do.MustInvoke[*Service](i)
	adminToken := do.MustInvokeNamed[string](i, "admin-token")

	result := &HTTPService{
		Service:    service,
		AdminToken: adminToken,
		validate:   validator.New(),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		apiGroup := e.Group("/api")

		matchGroup := apiGroup.Group("/matches")

		matchGroup.POST("", result.CreateMatch)
		matchGroup.GET("", result.ListAvailable)
		matchGroup.GET("/:id", result.GetMatch)
		matchGroup.GET("/:id/events", result.GetEvents)
		matchGroup.POST("/:id/join", result.JoinMatch)
		matchGroup.POST("/:id/result", result.SubmitResult)
		matchGroup.POST("/:id/cancel", result.CancelMatch)

		apiGroup.POST("/admin/matches/:id/cancel", result.ForceCancelMatch)
	})

	return result, nil
}

func (s *HTTPService) CreateMatch(c echo.Context) error {
	playerID, err := callerID(c)
	if err != nil {
		return err
	}

	var request CreateRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.validate.Struct(request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	amount, err := decimal.NewFromString(request.Wager)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "wager must be a decimal number")
	}

	m, err := s.Service.Create(c.Request().Context(),
		playerID, wager.GameType(request.GameType), amount,
		time.Duration(request.ExpiryMinutes)*time.Minute)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, m)
}

func (s *HTTPService) JoinMatch(c echo.Context) error {
	playerID, err := callerID(c)
	if err != nil {
		return err
	}

	m, err := s.Service.Join(c.Request().Context(), playerID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, m)
}

type submitResultResponse struct {
	Match   *wager.Match      `json:"match,omitempty"`
	Outcome *verifier.Outcome `json:"outcome,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (s *HTTPService) SubmitResult(c echo.Context) error {
	playerID, err := callerID(c)
	if err != nil {
		return err
	}

	var request SubmitResultRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.validate.Struct(request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	m, outcome, err := s.Service.SubmitResult(c.Request().Context(), playerID, c.Param("id"), request)
	if err != nil {
		if outcome != nil {
			// Verification rejections carry their evidence record.
			return c.JSON(http.StatusUnprocessableEntity, submitResultResponse{
				Outcome: outcome,
				Error:   err.Error(),
			})
		}

		return httpError(err)
	}

	return c.JSON(http.StatusOK, submitResultResponse{
		Match:   m,
		Outcome: outcome,
	})
}

func (s *HTTPService) CancelMatch(c echo.Context) error {
	playerID, err := callerID(c)
	if err != nil {
		return err
	}

	m, err := s.Service.Cancel(c.Request().Context(), playerID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, m)
}

func (s *HTTPService) ForceCancelMatch(c echo.Context) error {
	token := c.Request().Header.Get("X-Admin-Token")
	if s.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminToken)) != 1 {
		return echo.NewHTTPError(http.StatusForbidden, "invalid admin token")
	}

	playerID, err := callerID(c)
	if err != nil {
		return err
	}

	var request ForceCancelRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.validate.Struct(request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	m, err := s.Service.ForceCancel(c.Request().Context(), playerID, c.Param("id"), request.Reason)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, m)
}

func (s *HTTPService) GetMatch(c echo.Context) error {
	m, err := s.Service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, m)
}

func (s *HTTPService) GetEvents(c echo.Context) error {
	events, err := s.Service.Events(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, events)
}

func (s *HTTPService) ListAvailable(c echo.Context) error {
	var gameType *wager.GameType

	if value := c.QueryParam("game_type"); value != "" {
		gt := wager.GameType(value)
		if !gt.Supported() {
			return echo.NewHTTPError(http.StatusBadRequest, "unsupported game type")
		}

		gameType = &gt
	}

	limit := 0

	if value := c.QueryParam("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}

		limit = parsed
	}

	matches, err := s.Service.ListAvailable(c.Request().Context(), gameType, limit)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, matches)
}

func callerID(c echo.Context) (string, error) {
	playerID := c.Request().Header.Get(playerHeader)
	if playerID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing "+playerHeader+" header")
	}

	return playerID, nil
}

// httpError maps the closed error set to statuses; internals never leak raw.
func httpError(err error) error {
	switch {
	case errors.Is(err, wager.ErrMatchNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, wager.ErrUnsupportedGame),
		errors.Is(err, wager.ErrWagerOutOfRange),
		errors.Is(err, wager.ErrInvalidPayload):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, wager.ErrMatchExpired):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, wager.ErrPendingMatchOpen),
		errors.Is(err, wager.ErrMatchNotAvailable),
		errors.Is(err, wager.ErrAlreadyJoined),
		errors.Is(err, wager.ErrInvalidStateTransition),
		errors.Is(err, wager.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, wager.ErrNotParticipant),
		errors.Is(err, wager.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, wager.ErrInvalidSignature),
		errors.Is(err, wager.ErrWinnerMismatch),
		errors.Is(err, wager.ErrAntiCheatRejected):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, wager.ErrEscrowFailure):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
