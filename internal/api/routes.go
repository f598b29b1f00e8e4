package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/internal/auth"
	"github.com/satriahrh/omnichat/server/internal/websocket"
	"github.com/satriahrh/omnichat/server/usecase"
)

const claimsKey = "claims"

// handler holds the dependencies of every route
type handler struct {
	registry *usecase.SessionRegistry
	keys     *usecase.KeyService
	hub      *websocket.Hub
	issuer   *auth.Issuer
	logger   *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	registry *usecase.SessionRegistry,
	keys *usecase.KeyService,
	hub *websocket.Hub,
	issuer *auth.Issuer,
	logger *zap.Logger,
) {
	h := &handler{
		registry: registry,
		keys:     keys,
		hub:      hub,
		issuer:   issuer,
		logger:   logger,
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "omnichat-server",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.GET("/languages", h.languages)
	v1.POST("/sessions", h.createSession)

	sessions := v1.Group("/sessions/:id", h.requireToken, h.requireRole(auth.RoleSession), h.requireSessionMatch)
	sessions.GET("", h.getSession)
	sessions.DELETE("", h.deleteSession)
	sessions.POST("/messages", h.appendMessage)
	sessions.POST("/replies/:index", h.selectReply)
	sessions.PUT("/languages/:speaker", h.setLanguage)
	sessions.POST("/summary", h.summarize)
	sessions.POST("/reset", h.reset)

	// any token may read the key status; only operators change the key
	key := v1.Group("/key", h.requireToken)
	key.GET("", h.keyStatus)
	key.PUT("", h.saveKey, h.requireRole(auth.RoleOperator))
	key.DELETE("", h.removeKey, h.requireRole(auth.RoleOperator))

	// WebSocket endpoint with JWT validation
	e.GET("/ws", h.connect, h.requireToken, h.requireRole(auth.RoleSession))
}

// requireToken validates the Bearer token, or ?token= for browsers that
// cannot set headers on a WebSocket upgrade
func (h *handler) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var token string
		authHeader := c.Request().Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			token = c.QueryParam("token")
		}

		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "A session token is required",
			})
		}

		claims, err := h.issuer.ValidateToken(token)
		if err != nil {
			h.logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired session token",
			})
		}

		c.Set(claimsKey, claims)
		return next(c)
	}
}

// requireRole rejects tokens that were not issued with role
func (h *handler) requireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := c.Get(claimsKey).(*auth.JWTClaims)
			if claims.Role != role {
				h.logger.Warn("Request rejected: wrong token role",
					zap.String("path", c.Path()),
					zap.String("role", claims.Role))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "forbidden",
					Message: "Token does not grant access to this resource",
				})
			}
			return next(c)
		}
	}
}

func (h *handler) requireSessionMatch(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := c.Get(claimsKey).(*auth.JWTClaims)
		if claims.SessionID != c.Param("id") {
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "forbidden",
				Message: "Token does not grant access to this session",
			})
		}
		return next(c)
	}
}

// errorResponse maps domain errors to HTTP responses
func (h *handler) errorResponse(c echo.Context, err error) error {
	var gatewayErr *domain.GatewayError
	switch {
	case domain.IsValidation(err):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "session_not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrSessionClosed):
		return c.JSON(http.StatusGone, ErrorResponse{Error: "session_closed", Message: err.Error()})
	case errors.As(err, &gatewayErr):
		switch gatewayErr.Kind {
		case domain.KindAuth, domain.KindNotEnabled:
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "key_required", Message: err.Error()})
		case domain.KindQuota:
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "quota_exceeded", Message: err.Error()})
		default:
			return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "gateway_error", Message: err.Error()})
		}
	}

	h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Internal server error"})
}

func (h *handler) session(c echo.Context) (*usecase.Session, error) {
	session, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return nil, err
	}
	session.Touch()
	return session, nil
}

func (h *handler) languages(c echo.Context) error {
	return c.JSON(http.StatusOK, entities.SupportedLanguages())
}

func (h *handler) createSession(c echo.Context) error {
	ctx := c.Request().Context()

	session, err := h.registry.Create(ctx)
	if err != nil {
		return h.errorResponse(c, err)
	}

	token, expiresAt, err := h.issuer.GenerateSessionToken(session.ID())
	if err != nil {
		h.registry.Remove(session.ID())
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: session.ID(),
		Token:     token,
		ExpiresAt: expiresAt,
		Snapshot:  session.Snapshot(),
	})
}

func (h *handler) getSession(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *handler) deleteSession(c echo.Context) error {
	if err := h.registry.Remove(c.Param("id")); err != nil {
		return h.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) appendMessage(c echo.Context) error {
	var req AppendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	session, err := h.session(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	msg, err := session.AppendMessage(c.Request().Context(), req.Text, nil)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, MessageResponse{Message: msg})
}

func (h *handler) selectReply(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Reply index must be a number",
		})
	}

	session, err := h.session(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	msg, err := session.SelectReply(c.Request().Context(), index)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, MessageResponse{Message: msg})
}

func (h *handler) setLanguage(c echo.Context) error {
	speaker, err := entities.ParseSpeaker(c.Param("speaker"))
	if err != nil {
		return h.errorResponse(c, domain.NewValidationError("speaker", entities.ErrInvalidSpeaker))
	}

	var req SetLanguageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	session, err := h.session(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	if err := session.SetLanguage(c.Request().Context(), speaker, req.Code); err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot().Preferences)
}

func (h *handler) summarize(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	if err := session.Summarize(c.Request().Context()); err != nil {
		return h.errorResponse(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handler) reset(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	if err := session.Reset(c.Request().Context()); err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *handler) keyStatus(c echo.Context) error {
	configured, err := h.keys.Configured(c.Request().Context())
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, KeyStatusResponse{Configured: configured})
}

func (h *handler) saveKey(c echo.Context) error {
	var req SaveKeyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if err := h.keys.SaveKey(c.Request().Context(), req.Key); err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, KeyStatusResponse{Configured: true})
}

func (h *handler) removeKey(c echo.Context) error {
	if err := h.keys.RemoveKey(c.Request().Context()); err != nil {
		return h.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// connect attaches the connection to the session named by the token
func (h *handler) connect(c echo.Context) error {
	claims := c.Get(claimsKey).(*auth.JWTClaims)

	h.logger.Info("WebSocket connection authenticated", zap.String("sessionID", claims.SessionID))

	return websocket.HandleWebSocketWithAuth(h.hub, c, claims.SessionID, h.logger)
}
