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

type teacherService interface {
	Onboard(ctx context.Context, uid string, req service.OnboardRequest) (*models.Teacher, error)
	Get(ctx context.Context, uid string) (*models.Teacher, error)
	UpdateProfile(ctx context.Context, uid string, req service.UpdateProfileRequest) (*models.Teacher, error)
	UpdatePushToken(ctx context.Context, uid, token string) error
}

// TeacherHandler serves the signed in teacher's profile.
type TeacherHandler struct {
	service teacherService
}

// NewTeacherHandler constructs a teacher handler.
func NewTeacherHandler(svc teacherService) *TeacherHandler {
	return &TeacherHandler{service: svc}
}

// Onboard godoc
// @Summary Onboard teacher
// @Description Links the caller to the school of their e-mail domain
// @Tags Teachers
// @Accept json
// @Produce json
// @Param payload body service.OnboardRequest true "Profile"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/me [post]
func (h *TeacherHandler) Onboard(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	teacher, err := h.service.Onboard(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, teacher)
}

// Me godoc
// @Summary Get own profile
// @Tags Teachers
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/me [get]
func (h *TeacherHandler) Me(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	teacher, err := h.service.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, teacher)
}

// UpdateProfile godoc
// @Summary Update own profile
// @Description Writes changed fields only. A new picture is uploaded before the profile is updated.
// @Tags Teachers
// @Accept multipart/form-data
// @Produce json
// @Param firstName formData string false "First name"
// @Param lastName formData string false "Last name"
// @Param emailAddress formData string false "E-mail"
// @Param picture formData file false "Profile picture"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/me [patch]
func (h *TeacherHandler) UpdateProfile(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.UpdateProfileRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	picture, closePicture, err := formAttachment(c, "picture")
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closePicture()
	req.Picture = picture

	teacher, err := h.service.UpdateProfile(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, teacher)
}

// UpdatePushToken godoc
// @Summary Register push token
// @Tags Teachers
// @Accept json
// @Param payload body map[string]string true "pushToken"
// @Success 204
// @Security BearerAuth
// @Router /teachers/me/push-token [put]
func (h *TeacherHandler) UpdatePushToken(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var payload struct {
		PushToken string `json:"pushToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "push token required"))
		return
	}
	if err := h.service.UpdatePushToken(c.Request.Context(), claims.UserID, payload.PushToken); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
