package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/export"
	"github.com/noah-isme/mili-llama-api/pkg/response"
)

type timeOffService interface {
	Create(ctx context.Context, requester service.Requester, req service.CreateTimeOffRequest) (*models.Assignment, error)
	CreateBulk(ctx context.Context, requester service.Requester, req service.BulkTimeOffRequest) ([]models.Assignment, error)
	Get(ctx context.Context, id string) (*models.Assignment, error)
	ListForSchool(ctx context.Context, schoolID, createdBy string) (*service.TimeOffList, error)
	Approve(ctx context.Context, id string) (*models.Assignment, error)
	AdminApprove(ctx context.Context, id string) (*models.Assignment, error)
	AdminReject(ctx context.Context, id string) (*models.Assignment, error)
	Cancel(ctx context.Context, id, cancelledBy string) (*models.Assignment, error)
	Delete(ctx context.Context, id string) error
	Export(ctx context.Context, schoolID string, format export.Format) (*service.ExportFile, error)
}

type requesterResolver interface {
	Requester(ctx context.Context, uid string) (service.Requester, error)
}

// TimeOffHandler files and reviews time-off requests.
type TimeOffHandler struct {
	service    timeOffService
	requesters requesterResolver
}

func NewTimeOffHandler(svc timeOffService, requesters requesterResolver) *TimeOffHandler {
	return &TimeOffHandler{service: svc, requesters: requesters}
}

// bulkFailure reports the requests filed before a bulk submission stopped.
type bulkFailure struct {
	err     error
	created []models.Assignment
}

func (e *bulkFailure) Error() string { return e.err.Error() }

func (e *bulkFailure) Unwrap() error { return e.err }

func (e *bulkFailure) PartialMeta() map[string]interface{} {
	meta := map[string]interface{}{}
	var inner interface{ PartialMeta() map[string]interface{} }
	if errors.As(e.err, &inner) {
		for k, v := range inner.PartialMeta() {
			meta[k] = v
		}
	}
	ids := make([]string, 0, len(e.created))
	for _, a := range e.created {
		ids = append(ids, a.ID)
	}
	meta["createdIds"] = ids
	return meta
}

func (h *TimeOffHandler) requester(c *gin.Context) (service.Requester, bool) {
	claims := requireClaims(c)
	if claims == nil {
		return service.Requester{}, false
	}
	requester, err := h.requesters.Requester(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return service.Requester{}, false
	}
	return requester, true
}

// Create godoc
// @Summary File a time-off request
// @Description Files one request, for a class or personal when classId is empty. An optional attachment is uploaded after the request is saved.
// @Tags TimeOff
// @Accept multipart/form-data
// @Produce json
// @Param date formData string true "Date (RFC3339)"
// @Param classId formData string false "Class ID"
// @Param requestType formData int false "0 vacation, 1 sick time, 2 unpaid leave"
// @Param subRequired formData bool false "Substitute required"
// @Param fullDayOff formData bool false "Full day off"
// @Param additionalNotes formData string false "Notes"
// @Param attachment formData file false "Supporting document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off [post]
func (h *TimeOffHandler) Create(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		return
	}
	var req service.CreateTimeOffRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid time-off payload"))
		return
	}
	attachment, closeAttachment, err := formAttachment(c, "attachment")
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeAttachment()
	req.Attachment = attachment

	created, err := h.service.Create(c.Request.Context(), requester, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// CreateBulk godoc
// @Summary File time-off for several classes
// @Description Files one request per class in order and stops at the first failure.
// @Tags TimeOff
// @Accept multipart/form-data
// @Produce json
// @Param date formData string true "Date (RFC3339)"
// @Param classIds formData []string false "Class IDs" collectionFormat(multi)
// @Param subRequired formData bool false "Substitute required"
// @Param fullDayOff formData bool false "Full day off"
// @Param attachment formData file false "Supporting document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off/bulk [post]
func (h *TimeOffHandler) CreateBulk(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		return
	}
	var req service.BulkTimeOffRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid time-off payload"))
		return
	}
	attachment, closeAttachment, err := formAttachment(c, "attachment")
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeAttachment()
	req.Attachment = attachment

	created, err := h.service.CreateBulk(c.Request.Context(), requester, req)
	if err != nil {
		if len(created) > 0 {
			err = &bulkFailure{err: err, created: created}
		}
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List time-off requests
// @Description Requests of a school with their class names. Defaults to the caller's school.
// @Tags TimeOff
// @Produce json
// @Param schoolId query string false "School ID"
// @Param mine query bool false "Only the caller's requests"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off [get]
func (h *TimeOffHandler) List(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		return
	}
	schoolID := c.DefaultQuery("schoolId", requester.SchoolUID)
	createdBy := ""
	if c.Query("mine") == "true" {
		createdBy = requester.UID
	}
	list, err := h.service.ListForSchool(c.Request.Context(), schoolID, createdBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Get godoc
// @Summary Get time-off request
// @Tags TimeOff
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off/{id} [get]
func (h *TimeOffHandler) Get(c *gin.Context) {
	assignment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, assignment)
}

// Approve godoc
// @Summary Approve substitute arrangement
// @Tags TimeOff
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off/{id}/approve [post]
func (h *TimeOffHandler) Approve(c *gin.Context) {
	h.review(c, h.service.Approve)
}

// AdminApprove godoc
// @Summary Approve request as administrator
// @Tags TimeOff
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off/{id}/admin-approve [post]
func (h *TimeOffHandler) AdminApprove(c *gin.Context) {
	h.review(c, h.service.AdminApprove)
}

// AdminReject godoc
// @Summary Reject request as administrator
// @Tags TimeOff
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off/{id}/admin-reject [post]
func (h *TimeOffHandler) AdminReject(c *gin.Context) {
	h.review(c, h.service.AdminReject)
}

func (h *TimeOffHandler) review(c *gin.Context, action func(context.Context, string) (*models.Assignment, error)) {
	assignment, err := action(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, assignment)
}

// Cancel godoc
// @Summary Cancel request
// @Tags TimeOff
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off/{id}/cancel [post]
func (h *TimeOffHandler) Cancel(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	assignment, err := h.service.Cancel(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, assignment)
}

// Delete godoc
// @Summary Delete request
// @Tags TimeOff
// @Param id path string true "Request ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /time-off/{id} [delete]
func (h *TimeOffHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export time-off requests
// @Tags TimeOff
// @Produce text/csv
// @Produce application/pdf
// @Param schoolId query string false "School ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /time-off/export [get]
func (h *TimeOffHandler) Export(c *gin.Context) {
	requester, ok := h.requester(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "format must be csv or pdf"))
		return
	}
	file, err := h.service.Export(c.Request.Context(), c.DefaultQuery("schoolId", requester.SchoolUID), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+file.FileName+"\"")
	c.Data(http.StatusOK, file.ContentType, file.Body)
}
