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

type classService interface {
	Create(ctx context.Context, schoolID, teacherUID string, req service.CreateClassRequest) (*models.Class, error)
	ListForSchool(ctx context.Context, schoolID, teacherUID string) ([]models.Class, error)
	Get(ctx context.Context, schoolID, classID string) (*models.Class, error)
	UpdateTimes(ctx context.Context, schoolID, classID string, req service.UpdateClassTimesRequest) (*models.Class, error)
	Delete(ctx context.Context, schoolID, classID string) error
	DeleteByName(ctx context.Context, schoolID, className string) error
}

// ClassHandler exposes the classes of a school.
type ClassHandler struct {
	service classService
}

// NewClassHandler constructs a class handler.
func NewClassHandler(svc classService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// List godoc
// @Summary List classes
// @Tags Classes
// @Produce json
// @Param schoolId path string true "School ID"
// @Param teacherUid query string false "Only classes of this teacher"
// @Param mine query bool false "Only classes of the signed in teacher"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schools/{schoolId}/classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	teacherUID := c.Query("teacherUid")
	if c.Query("mine") == "true" {
		if claims := claimsFromContext(c); claims != nil {
			teacherUID = claims.UserID
		}
	}
	classes, err := h.service.ListForSchool(c.Request.Context(), c.Param("schoolId"), teacherUID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, classes)
}

// Get godoc
// @Summary Get class detail
// @Tags Classes
// @Produce json
// @Param schoolId path string true "School ID"
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schools/{schoolId}/classes/{classId} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, err := h.service.Get(c.Request.Context(), c.Param("schoolId"), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, class)
}

// Create godoc
// @Summary Create class
// @Description Creates a class for the signed in teacher. An optional roster file is uploaded and linked after the class is saved.
// @Tags Classes
// @Accept multipart/form-data
// @Produce json
// @Param schoolId path string true "School ID"
// @Param classSubject formData string true "Subject"
// @Param numberOfStudents formData string true "Number of students"
// @Param classStartTime formData string true "Start time (RFC3339)"
// @Param classEndTime formData string true "End time (RFC3339)"
// @Param roster formData file false "Class roster"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Security BearerAuth
// @Router /schools/{schoolId}/classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.CreateClassRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid class payload"))
		return
	}
	roster, closeRoster, err := formAttachment(c, "roster")
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeRoster()
	req.Roster = roster

	class, err := h.service.Create(c.Request.Context(), c.Param("schoolId"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// UpdateTimes godoc
// @Summary Move class
// @Tags Classes
// @Accept json
// @Produce json
// @Param schoolId path string true "School ID"
// @Param classId path string true "Class ID"
// @Param payload body service.UpdateClassTimesRequest true "New times"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schools/{schoolId}/classes/{classId} [patch]
func (h *ClassHandler) UpdateTimes(c *gin.Context) {
	var req service.UpdateClassTimesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid class payload"))
		return
	}
	class, err := h.service.UpdateTimes(c.Request.Context(), c.Param("schoolId"), c.Param("classId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, class)
}

// Delete godoc
// @Summary Delete class
// @Tags Classes
// @Param schoolId path string true "School ID"
// @Param classId path string true "Class ID"
// @Success 204
// @Security BearerAuth
// @Router /schools/{schoolId}/classes/{classId} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("schoolId"), c.Param("classId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DeleteByName godoc
// @Summary Delete class by name
// @Description Removes the first class with the given name
// @Tags Classes
// @Param schoolId path string true "School ID"
// @Param name query string true "Class name"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schools/{schoolId}/classes [delete]
func (h *ClassHandler) DeleteByName(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "name is required"))
		return
	}
	if err := h.service.DeleteByName(c.Request.Context(), c.Param("schoolId"), name); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
