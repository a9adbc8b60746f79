package consultation

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/teleclinic/consult/internal/platform/auth"
	"github.com/teleclinic/consult/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consultations", h.CreateConsultation)
	api.GET("/consultations", h.ListConsultations)
	api.GET("/consultations/search", h.SearchConsultations)
	api.GET("/consultations/analytics", h.Analytics)
	api.POST("/consultations/cleanup", h.CleanupEmpty)
	api.POST("/consultations/bulk", h.BulkUpdate)
	api.GET("/consultations/:id", h.GetConsultation)
	api.DELETE("/consultations/:id", h.DeleteConsultation)
	api.POST("/consultations/:id/messages", h.AppendMessage)
	api.PATCH("/consultations/:id/metadata", h.UpdateMetadata)
	api.GET("/consultations/:id/soap-note", h.GetSOAPNote)
	api.GET("/consultations/:id/referrals", h.GetReferrals)
	api.GET("/consultations/:id/follow-ups", h.GetFollowUps)
	api.POST("/consultations/:id/follow-ups", h.CreateFollowUp)
}

// httpError maps domain error kinds onto HTTP status codes. Store failures
// stay generic so internals never leak to the caller.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) ownerID(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

// ownedConsultation loads the consultation and hides other owners' records
// behind a not-found.
func (h *Handler) ownedConsultation(c echo.Context) (*Consultation, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cons, err := h.svc.GetConsultation(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	if cons.OwnerID != h.ownerID(c) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	}
	return cons, nil
}

func (h *Handler) CreateConsultation(c echo.Context) error {
	cons, err := h.svc.CreateConsultation(c.Request().Context(), h.ownerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cons)
}

func (h *Handler) ListConsultations(c echo.Context) error {
	items, err := h.svc.ListConsultations(c.Request().Context(), h.ownerID(c))
	if err != nil {
		return httpError(err)
	}

	pg := pagination.FromContext(c)
	total := len(items)
	start := pg.Offset
	if start > total {
		start = total
	}
	end := start + pg.Limit
	if end > total {
		end = total
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items[start:end], total, pg.Limit, pg.Offset))
}

func (h *Handler) GetConsultation(c echo.Context) error {
	cons, err := h.ownedConsultation(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) DeleteConsultation(c echo.Context) error {
	cons, err := h.ownedConsultation(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteConsultation(c.Request().Context(), cons.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type appendMessageRequest struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

func (h *Handler) AppendMessage(c echo.Context) error {
	cons, err := h.ownedConsultation(c)
	if err != nil {
		return err
	}
	var req appendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, err := h.svc.AppendMessage(c.Request().Context(), cons.ID, req.Text, req.Sender)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) UpdateMetadata(c echo.Context) error {
	cons, err := h.ownedConsultation(c)
	if err != nil {
		return err
	}
	var patch MetadataPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateMetadata(c.Request().Context(), cons.ID, patch); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CleanupEmpty(c echo.Context) error {
	deleted, err := h.svc.CleanupEmpty(c.Request().Context(), h.ownerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *Handler) SearchConsultations(c echo.Context) error {
	filter := SearchFilter{
		Status:   c.QueryParam("status"),
		Priority: c.QueryParam("priority"),
		Category: c.QueryParam("category"),
	}
	if tags := c.QueryParams()["tag"]; len(tags) > 0 {
		filter.Tags = tags
	}
	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		filter.ActionAfter = &t
	}
	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		filter.ActionBefore = &t
	}

	items, err := h.svc.Search(c.Request().Context(), h.ownerID(c), c.QueryParam("term"), filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) Analytics(c echo.Context) error {
	stats, err := h.svc.Analytics(c.Request().Context(), h.ownerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

type bulkUpdateRequest struct {
	IDs       []uuid.UUID `json:"ids"`
	Operation string      `json:"operation"`
	Data      BulkData    `json:"data"`
}

func (h *Handler) BulkUpdate(c echo.Context) error {
	var req bulkUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.BulkUpdate(c.Request().Context(), h.ownerID(c), req.IDs, req.Operation, req.Data)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetSOAPNote(c echo.Context) error {
	cons, err := h.ownedConsultation(c)
	if err != nil {
		return err
	}
	note, err := h.svc.GetSOAPNote(c.Request().Context(), cons.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, note)
}

func (h *Handler) GetReferrals(c echo.Context) error {
	cons, err := h.ownedConsultation(c)
	if err != nil {
		return err
	}
	items, err := h.svc.GetReferrals(c.Request().Context(), cons.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetFollowUps(c echo.Context) error {
	cons, err := h.ownedConsultation(c)
	if err != nil {
		return err
	}
	items, err := h.svc.GetFollowUps(c.Request().Context(), cons.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type createFollowUpRequest struct {
	ScheduledDate time.Time `json:"scheduledDate"`
	Type          string    `json:"type"`
	Reason        string    `json:"reason"`
	Notes         string    `json:"notes"`
}

func (h *Handler) CreateFollowUp(c echo.Context) error {
	cons, err := h.ownedConsultation(c)
	if err != nil {
		return err
	}
	var req createFollowUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fu := &FollowUp{
		ConsultationID: cons.ID,
		PatientID:      cons.OwnerID,
		ScheduledDate:  req.ScheduledDate,
		Type:           req.Type,
		Reason:         req.Reason,
		Notes:          req.Notes,
	}
	if err := h.svc.CreateFollowUp(c.Request().Context(), fu); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, fu)
}
