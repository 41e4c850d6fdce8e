package visit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careconnect/evv/internal/platform/apperr"
	"github.com/careconnect/evv/internal/platform/auth"
	"github.com/careconnect/evv/pkg/pagination"
)

type Handler struct {
	svc         *Service
	corrections *CorrectionService
}

func NewHandler(svc *Service, corrections *CorrectionService) *Handler {
	return &Handler{svc: svc, corrections: corrections}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/evv/records", h.CreateRecord)
	api.GET("/evv/records", h.SearchRecords)
	api.GET("/evv/records/pending-eor", h.ListPendingEOR)
	api.GET("/evv/records/:id", h.GetRecord)
	api.POST("/evv/records/:id/review", h.ReviewRecord)
	api.POST("/evv/records/:id/eor-approval", h.ApproveSecondary)
	api.POST("/evv/records/:id/corrections", h.CorrectRecord)
	api.GET("/evv/caregivers/:id/records", h.ListCaregiverRecords)

	api.GET("/evv/corrections/pending", h.ListPendingCorrections)
	api.GET("/evv/corrections/:id", h.GetCorrection)
	api.POST("/evv/corrections/:id/approve", h.ApproveCorrection)
	api.POST("/evv/corrections/:id/reject", h.RejectCorrection)
}

type reviewBody struct {
	Approve bool   `json:"approve"`
	Comment string `json:"comment"`
}

type commentBody struct {
	Comment string `json:"comment"`
}

// -- Records --

func (h *Handler) CreateRecord(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.CreateRecord(c.Request().Context(), &req, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) SearchRecords(c echo.Context) error {
	f, err := searchFilterFromContext(c)
	if err != nil {
		return err
	}
	if err := f.Normalize(); err != nil {
		return apperr.ToHTTP(err)
	}
	items, total, err := h.svc.Search(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPageResponse(items, total, f.Page, f.Size))
}

func (h *Handler) ReviewRecord(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body reviewBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Review(c.Request().Context(), id, body.Approve, actor, body.Comment)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ApproveSecondary(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body commentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.ApproveSecondary(c.Request().Context(), id, actor, body.Comment)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListPendingEOR(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPendingSecondaryApprovals(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListCaregiverRecords(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByCaregiver(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Corrections --

func (h *Handler) CorrectRecord(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CorrectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.OriginalRecordID = id
	rec, err := h.corrections.Correct(c.Request().Context(), &req, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetCorrection(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	corr, err := h.corrections.GetCorrection(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, corr)
}

func (h *Handler) ApproveCorrection(c echo.Context) error {
	return h.resolveCorrection(c, true)
}

func (h *Handler) RejectCorrection(c echo.Context) error {
	return h.resolveCorrection(c, false)
}

func (h *Handler) resolveCorrection(c echo.Context, approve bool) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body commentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resolve := h.corrections.RejectCorrection
	if approve {
		resolve = h.corrections.ApproveCorrection
	}
	corr, err := resolve(c.Request().Context(), id, actor, body.Comment)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, corr)
}

func (h *Handler) ListPendingCorrections(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.corrections.ListPendingCorrections(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func searchFilterFromContext(c echo.Context) (SearchFilter, error) {
	f := SearchFilter{
		PatientName:   c.QueryParam("patientName"),
		ServiceType:   c.QueryParam("serviceType"),
		StateCode:     c.QueryParam("stateCode"),
		Status:        c.QueryParam("status"),
		SortBy:        c.QueryParam("sortBy"),
		SortDirection: c.QueryParam("sortDirection"),
	}
	if v := c.QueryParam("caregiverId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid caregiverId")
		}
		f.CaregiverID = &id
	}
	for name, dst := range map[string]**time.Time{"startDate": &f.StartDate, "endDate": &f.EndDate} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
		}
		*dst = &d
	}
	f.Page, f.Size = pagination.PageFromContext(c)
	return f, nil
}
