package generation

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/teleclinic/consult/internal/domain/consultation"
	"github.com/teleclinic/consult/internal/platform/auth"
)

// ConsultationSource resolves consultation records for ownership checks.
// *consultation.Service satisfies it.
type ConsultationSource interface {
	GetConsultation(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
}

type Handler struct {
	gen           *Generator
	consultations ConsultationSource
}

func NewHandler(gen *Generator, consultations ConsultationSource) *Handler {
	return &Handler{gen: gen, consultations: consultations}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consultations/generate", h.Generate)
}

const (
	actionGenerateSOAP  = "generateSOAP"
	actionReferToDoctor = "referToDoctor"
)

type consultationDataRequest struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Messages []consultation.Message `json:"messages"`
}

type generateRequest struct {
	Action           string                  `json:"action"`
	ConsultationData consultationDataRequest `json:"consultationData"`
}

func (h *Handler) Generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Action != actionGenerateSOAP && req.Action != actionReferToDoctor {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid action")
	}
	if req.ConsultationData.ID == "" || len(req.ConsultationData.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest,
			"valid consultation data (including id and messages) is required")
	}
	id, err := uuid.Parse(req.ConsultationData.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
	}

	ctx := c.Request().Context()

	// The record owner, not the request body, decides whose consultation
	// this is. Foreign records are hidden behind a not-found.
	subject := auth.UserIDFromContext(ctx)
	cons, err := h.consultations.GetConsultation(ctx, id)
	if err != nil {
		if errors.Is(err, consultation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consultation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if cons.OwnerID != subject {
		return echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	}

	data := ConsultationData{
		ID:       id,
		OwnerID:  subject,
		Title:    req.ConsultationData.Title,
		Messages: req.ConsultationData.Messages,
	}

	switch req.Action {
	case actionGenerateSOAP:
		note, err := h.gen.GenerateSOAP(ctx, data)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "soapNote": note})

	default:
		ref, err := h.gen.GenerateReferral(ctx, data)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "referral": ref})
	}
}
