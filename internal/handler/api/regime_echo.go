package api

import (
	"net/http"
	"time"

	models "RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	"RegimePull/internal/service/ratelimit"
	"RegimePull/internal/usecase"
	xhttp "RegimePull/pkg/http"
	xlogger "RegimePull/pkg/logger"
	xutil "RegimePull/pkg/util"

	"github.com/labstack/echo/v4"
)

// RegimeEchoHandler serves the read-only snapshot API.
type RegimeEchoHandler struct {
	logger  *xlogger.Logger
	query   *usecase.SnapshotQuery
	limiter *ratelimit.Limiter
}

func NewRegimeEchoHandler(logger *xlogger.Logger, query *usecase.SnapshotQuery) *RegimeEchoHandler {
	return &RegimeEchoHandler{logger: logger, query: query, limiter: ratelimit.New()}
}

func (h *RegimeEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.rateLimit)
	g.GET("/snapshot", h.Snapshot)
	g.GET("/transitions", h.Transitions)
	g.GET("/instruments", h.Instruments)
}

// rateLimit caps each client at a 20-request burst refilling 10/s.
func (h *RegimeEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.limiter.Allow(c.RealIP(), 20, 10) {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"status":  http.StatusTooManyRequests,
				"message": "rate limit exceeded",
			})
		}
		return next(c)
	}
}

func (h *RegimeEchoHandler) Snapshot(c echo.Context) error {
	req := &models.SnapshotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := domrepo.NormalizeTimeframe(req.TF)

	snap, err := h.query.Latest(c.Request().Context(), req.Instrument, tf)
	if err != nil {
		h.logger.Error("snapshot query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if snap == nil {
		return xhttp.NotFoundResponse(c, "no snapshot for instrument")
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, snap)
}

func (h *RegimeEchoHandler) Transitions(c echo.Context) error {
	req := &models.TransitionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := domrepo.NormalizeTimeframe(req.TF)

	rows, err := h.query.Transitions(c.Request().Context(), req.Instrument, tf, req.Limit)
	if err != nil {
		h.logger.Error("transitions query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if from, to, ok := transitionsWindow(req.From, req.To, tf); ok {
		rows = filterTransitions(rows, from, to)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// transitionsWindow resolves the optional from/to bounds onto bar boundaries.
// The upper bound extends one bar past its bucket so a "to" inside the
// current bar still includes it.
func transitionsWindow(fromS, toS string, tf domrepo.Timeframe) (time.Time, time.Time, bool) {
	if fromS == "" && toS == "" {
		return time.Time{}, time.Time{}, false
	}
	from := xutil.ParseTimeDefault(fromS, time.Time{})
	to := xutil.ParseTimeDefault(toS, time.Now().UTC())
	from, to = xutil.AlignFromTo(from, to, string(tf))
	return from, to.Add(xutil.TimeframeDuration(string(tf))), true
}

// filterTransitions keeps rows whose bar time falls in [from, to).
func filterTransitions(rows []models.Transition, from, to time.Time) []models.Transition {
	out := make([]models.Transition, 0, len(rows))
	for _, r := range rows {
		if r.BarTime.Before(from) || !r.BarTime.Before(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (h *RegimeEchoHandler) Instruments(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.query.Instruments())
}
