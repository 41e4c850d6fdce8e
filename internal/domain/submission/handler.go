package submission

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/pkg/pagination"
)

type Handler struct {
	outbox     *Outbox
	dispatcher *Dispatcher
}

func NewHandler(outbox *Outbox, dispatcher *Dispatcher) *Handler {
	return &Handler{outbox: outbox, dispatcher: dispatcher}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/evv/outbox", h.List)
	api.GET("/evv/outbox/:id", h.Get)
	api.POST("/evv/outbox/dispatch", h.Dispatch)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Status: strings.ToUpper(c.QueryParam("status")),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	if v := c.QueryParam("recordId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid recordId")
		}
		f.RecordID = &id
	}
	items, total, err := h.outbox.List(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.outbox.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

// Dispatch runs one sweep on demand and reports its counts.
func (h *Handler) Dispatch(c echo.Context) error {
	res, err := h.dispatcher.Sweep(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
