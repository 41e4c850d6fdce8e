package offline

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careconnect/evv/internal/domain/visit"
	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/auth"
)

// DeviceHeader identifies the capturing device on offline uploads.
const DeviceHeader = "X-Device-ID"

type Handler struct {
	queue  *Queue
	syncer *Syncer
}

func NewHandler(queue *Queue, syncer *Syncer) *Handler {
	return &Handler{queue: queue, syncer: syncer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/evv/records/offline", h.CreateOfflineRecord)

	api.POST("/evv/offline/items", h.EnqueueItem)
	api.GET("/evv/offline/items/:id", h.GetItem)
	api.POST("/evv/offline/items/:id/requeue", h.RequeueItem)
	api.GET("/evv/offline/status", h.Status)
	api.POST("/evv/offline/sync", h.SyncAll)
	api.POST("/evv/offline/sync/:caregiverId", h.SyncCaregiver)
	api.POST("/evv/offline/retry", h.RetryFailed)
}

// -- Capture --

func (h *Handler) CreateOfflineRecord(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	priority, err := ParsePriority(c.QueryParam("priority"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req visit.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.queue.CreateOfflineRecord(c.Request().Context(), &req, actor, c.Request().Header.Get(DeviceHeader), priority)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusAccepted, item)
}

func (h *Handler) EnqueueItem(c echo.Context) error {
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DeviceID == "" {
		req.DeviceID = c.Request().Header.Get(DeviceHeader)
	}
	item, err := h.queue.Enqueue(c.Request().Context(), &req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusAccepted, item)
}

func (h *Handler) GetItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.queue.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) RequeueItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.queue.Requeue(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, item)
}

// -- Sync --

func (h *Handler) Status(c echo.Context) error {
	f := StatusFilter{DeviceID: c.QueryParam("deviceId")}
	if v := c.QueryParam("caregiverId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid caregiverId")
		}
		f.CaregiverID = &id
	}
	st, err := h.syncer.Status(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) SyncAll(c echo.Context) error {
	res, err := h.syncer.SyncPending(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) SyncCaregiver(c echo.Context) error {
	id, err := uuid.Parse(c.Param("caregiverId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid caregiverId")
	}
	res, err := h.syncer.SyncCaregiver(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RetryFailed(c echo.Context) error {
	n, err := h.syncer.RetryFailed(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"reset": n})
}
