package handler

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/response"
)

type schoolService interface {
	Create(ctx context.Context, school models.School) (*models.School, error)
	List(ctx context.Context) ([]models.School, error)
	Get(ctx context.Context, id string) (*models.School, error)
	FindByDomain(ctx context.Context, domain string) (*models.School, error)
	PolicyAttachments(ctx context.Context, schoolID string) ([]service.PolicyAttachment, error)
	OpenPolicyAttachment(ctx context.Context, schoolID, name string) (io.ReadCloser, error)
}

// SchoolHandler exposes schools and their policy documents.
type SchoolHandler struct {
	service schoolService
}

func NewSchoolHandler(svc schoolService) *SchoolHandler {
	return &SchoolHandler{service: svc}
}

// List godoc
// @Summary List schools
// @Description Lists all schools, or the school of one e-mail domain
// @Tags Schools
// @Produce json
// @Param domain query string false "E-mail domain"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schools [get]
func (h *SchoolHandler) List(c *gin.Context) {
	if domain := c.Query("domain"); domain != "" {
		school, err := h.service.FindByDomain(c.Request.Context(), domain)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, []models.School{*school})
		return
	}
	schools, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, schools)
}

// Get godoc
// @Summary Get school
// @Tags Schools
// @Produce json
// @Param schoolId path string true "School ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schools/{schoolId} [get]
func (h *SchoolHandler) Get(c *gin.Context) {
	school, err := h.service.Get(c.Request.Context(), c.Param("schoolId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, school)
}

// Create godoc
// @Summary Create school
// @Tags Schools
// @Accept json
// @Produce json
// @Param payload body models.School true "School payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /schools [post]
func (h *SchoolHandler) Create(c *gin.Context) {
	var req models.School
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid school payload"))
		return
	}
	school, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, school)
}

// Attachments godoc
// @Summary List policy documents
// @Tags Schools
// @Produce json
// @Param schoolId path string true "School ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schools/{schoolId}/attachments [get]
func (h *SchoolHandler) Attachments(c *gin.Context) {
	docs, err := h.service.PolicyAttachments(c.Request.Context(), c.Param("schoolId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, docs)
}

// OpenAttachment godoc
// @Summary Download a policy document
// @Tags Schools
// @Produce octet-stream
// @Param schoolId path string true "School ID"
// @Param name path string true "File name"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /schools/{schoolId}/attachments/{name} [get]
func (h *SchoolHandler) OpenAttachment(c *gin.Context) {
	name := c.Param("name")
	rc, err := h.service.OpenPolicyAttachment(c.Request.Context(), c.Param("schoolId"), name)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close()
	streamFile(c, path.Base(name), rc)
}

func streamFile(c *gin.Context, name string, r io.Reader) {
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	c.DataFromReader(http.StatusOK, -1, contentType, r, nil)
}
