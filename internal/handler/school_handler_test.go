package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type schoolServiceMock struct {
	domainQuery string
	opened      string
}

func (m *schoolServiceMock) Create(_ context.Context, school models.School) (*models.School, error) {
	school.ID = "s1"
	return &school, nil
}

func (m *schoolServiceMock) List(context.Context) ([]models.School, error) {
	return []models.School{{ID: "s1"}, {ID: "s2"}}, nil
}

func (m *schoolServiceMock) Get(context.Context, string) (*models.School, error) {
	return &models.School{ID: "s1"}, nil
}

func (m *schoolServiceMock) FindByDomain(_ context.Context, domain string) (*models.School, error) {
	m.domainQuery = domain
	if domain != "north.edu" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "There was no school found with the domain name "+domain)
	}
	return &models.School{ID: "s1", Domain: domain}, nil
}

func (m *schoolServiceMock) PolicyAttachments(context.Context, string) ([]service.PolicyAttachment, error) {
	return []service.PolicyAttachment{{Name: "handbook.pdf"}}, nil
}

func (m *schoolServiceMock) OpenPolicyAttachment(_ context.Context, _, name string) (io.ReadCloser, error) {
	m.opened = name
	return io.NopCloser(strings.NewReader("%PDF-1.4")), nil
}

func TestSchoolHandlerListByDomain(t *testing.T) {
	mock := &schoolServiceMock{}
	h := NewSchoolHandler(mock)

	c, w := newTestContext(http.MethodGet, "/schools?domain=north.edu", nil, "")
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].([]interface{})
	require.Len(t, data, 1)
	assert.Equal(t, "north.edu", data[0].(map[string]interface{})["domain"])

	c, w = newTestContext(http.MethodGet, "/schools?domain=south.edu", nil, "")
	h.List(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = newTestContext(http.MethodGet, "/schools", nil, "")
	h.List(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeEnvelope(t, w)["data"], 2)
}

func TestSchoolHandlerOpenAttachment(t *testing.T) {
	mock := &schoolServiceMock{}
	h := NewSchoolHandler(mock)

	c, w := newTestContext(http.MethodGet, "/schools/s1/attachments/handbook.pdf", nil, "")
	c.Params = gin.Params{{Key: "schoolId", Value: "s1"}, {Key: "name", Value: "handbook.pdf"}}
	h.OpenAttachment(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "handbook.pdf", mock.opened)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", w.Body.String())
}
