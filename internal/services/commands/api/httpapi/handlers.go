package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/louisbranch/sitesync/internal/platform/errors"
	"github.com/louisbranch/sitesync/internal/platform/errors/i18n"
	"github.com/louisbranch/sitesync/internal/platform/logging"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/gateway"
	log "github.com/sirupsen/logrus"
)

// HeaderUserID carries the authenticated user. Authentication happens
// upstream of this service.
const HeaderUserID = "X-User-ID"

const healthTimeout = 2 * time.Second

// Service is the command surface the handlers call.
type Service interface {
	Submit(ctx context.Context, projectID, userID string, reqs []command.Request) ([]gateway.Ack, error)
	QueryPage(ctx context.Context, projectID string, localIDs []string, afterSeq int64, limit int) (gateway.Page, error)
	Get(ctx context.Context, projectID, commandID string) (command.Command, error)
}

// HealthFunc reports whether dependencies are reachable.
type HealthFunc func(ctx context.Context) error

// NewServer builds an echo instance with the command routes registered.
func NewServer(svc Service, health HealthFunc, logger log.FieldLogger) *echo.Echo {
	logger = logging.OrDiscard(logger)
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			}).Debug("http request")
			return nil
		},
	}))
	Register(e, svc, health, logger)
	return e
}

// Register wires the command routes on e.
func Register(e *echo.Echo, svc Service, health HealthFunc, logger log.FieldLogger) {
	h := &handlers{svc: svc, health: health, logger: logging.OrDiscard(logger)}
	e.GET("/healthz", h.healthz)
	e.POST("/api/projects/:projectID/commands", h.submit)
	e.GET("/api/projects/:projectID/commands", h.list)
	e.GET("/api/projects/:projectID/commands/:commandID", h.get)
}

type handlers struct {
	svc    Service
	health HealthFunc
	logger log.FieldLogger
}

func (h *handlers) healthz(c echo.Context) error {
	if h.health == nil {
		return c.NoContent(http.StatusOK)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()
	if err := h.health(ctx); err != nil {
		h.logger.WithError(err).Warn("health check failed")
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) submit(c echo.Context) error {
	var body []commandRequest
	if err := decodeBody(c.Request().Body, &body); err != nil {
		return h.writeError(c, apperrors.Wrap(apperrors.CodeShapeInvalid, "request body must be a JSON array of commands", err))
	}
	reqs := make([]command.Request, len(body))
	for i, item := range body {
		reqs[i] = item.toDomain()
	}

	acks, err := h.svc.Submit(c.Request().Context(), c.Param("projectID"), c.Request().Header.Get(HeaderUserID), reqs)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, submitResponse{Commands: ackViews(acks)})
}

// list pages through a project's commands. Clients follow next_after_seq
// until it is absent.
func (h *handlers) list(c echo.Context) error {
	afterSeq, err := intParam(c, "after_seq")
	if err != nil {
		return h.writeError(c, err)
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		return h.writeError(c, err)
	}
	page, err := h.svc.QueryPage(c.Request().Context(), c.Param("projectID"), localIDFilter(c.QueryParams()["local_id"]), afterSeq, int(limit))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, listResponse{Commands: commandViews(page.Commands), NextAfterSeq: page.NextAfterSeq})
}

func (h *handlers) get(c echo.Context) error {
	cmd, err := h.svc.Get(c.Request().Context(), c.Param("projectID"), c.Param("commandID"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, newCommandView(cmd))
}

// intParam reads an optional non-negative integer query parameter.
func intParam(c echo.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, &apperrors.Error{
			Code:     apperrors.CodeShapeInvalid,
			Message:  fmt.Sprintf("%s must be a non-negative integer", name),
			Metadata: map[string]string{"field": name},
			Cause:    err,
		}
	}
	return value, nil
}

// localIDFilter accepts repeated and comma-separated local_id values.
func localIDFilter(values []string) []string {
	var ids []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
	}
	return ids
}

// writeError renders err with its coded status and a message localized for
// the request's Accept-Language. Internal causes stay in the log.
func (h *handlers) writeError(c echo.Context, err error) error {
	appErr := apperrors.From(err)
	code := appErr.Code

	catalog := i18n.ForAcceptLanguage(c.Request().Header.Get("Accept-Language"))
	body := errorBody{
		Code:     string(code),
		Message:  catalog.Format(string(code), appErr.Metadata),
		Detail:   appErr.Message,
		Metadata: appErr.Metadata,
	}
	if !appErr.Public() {
		h.logger.WithError(err).WithField("uri", c.Request().RequestURI).Error("request failed")
		body.Detail = ""
		body.Metadata = nil
	}
	c.Response().Header().Set("Content-Language", catalog.Locale())
	return c.JSON(code.HTTPStatus(), errorResponse{Error: body})
}
