package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/response"
)

type activationService interface {
	Activate(ctx context.Context, session *service.ActivationSession, userID, code string) error
	Status(ctx context.Context, userID string) (service.ActivationSession, error)
}

// ActivationHandler serves the activation code gate.
type ActivationHandler struct {
	service activationService
}

func NewActivationHandler(svc activationService) *ActivationHandler {
	return &ActivationHandler{service: svc}
}

// Activate godoc
// @Summary Submit activation code
// @Description Checks the code against the allow-list. Signed in users keep the result.
// @Tags Activation
// @Accept json
// @Produce json
// @Param payload body models.ActivationRequest true "Activation code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /activation [post]
func (h *ActivationHandler) Activate(c *gin.Context) {
	var req models.ActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid activation payload"))
		return
	}

	userID := ""
	if claims := claimsFromContext(c); claims != nil {
		userID = claims.UserID
	}
	var session service.ActivationSession
	if err := h.service.Activate(c.Request.Context(), &session, userID, req.Code); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Status godoc
// @Summary Activation state
// @Tags Activation
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /activation [get]
func (h *ActivationHandler) Status(c *gin.Context) {
	userID := ""
	if claims := claimsFromContext(c); claims != nil {
		userID = claims.UserID
	}
	session, err := h.service.Status(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}
