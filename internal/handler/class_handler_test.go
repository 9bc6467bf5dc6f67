package handler

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type classServiceMock struct {
	created      service.CreateClassRequest
	rosterBody   string
	teacherUID   string
	createErr    error
	listTeacher  string
	deletedNamed string
}

func (m *classServiceMock) Create(_ context.Context, schoolID, teacherUID string, req service.CreateClassRequest) (*models.Class, error) {
	m.created = req
	m.teacherUID = teacherUID
	if req.Roster != nil {
		raw, _ := io.ReadAll(req.Roster.Content)
		m.rosterBody = string(raw)
	}
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.Class{ID: "c1", SchoolUID: schoolID, ClassName: req.ClassSubject}, nil
}

func (m *classServiceMock) ListForSchool(_ context.Context, _, teacherUID string) ([]models.Class, error) {
	m.listTeacher = teacherUID
	return []models.Class{{ID: "c1"}}, nil
}

func (m *classServiceMock) Get(context.Context, string, string) (*models.Class, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "Class not found")
}

func (m *classServiceMock) UpdateTimes(context.Context, string, string, service.UpdateClassTimesRequest) (*models.Class, error) {
	return &models.Class{ID: "c1"}, nil
}

func (m *classServiceMock) Delete(context.Context, string, string) error { return nil }

func (m *classServiceMock) DeleteByName(_ context.Context, _, name string) error {
	m.deletedNamed = name
	return nil
}

func TestClassHandlerCreateMultipart(t *testing.T) {
	mock := &classServiceMock{}
	h := NewClassHandler(mock)

	body, contentType := multipartBody(t, map[string]string{
		"classSubject":     "Math",
		"numberOfStudents": "24",
		"classStartTime":   "2024-09-02T09:00:00Z",
		"classEndTime":     "2024-09-02T10:30:00Z",
	}, "roster", "roster.csv", "a,b")
	c, w := newTestContext(http.MethodPost, "/schools/s1/classes", body, contentType)
	c.Params = gin.Params{{Key: "schoolId", Value: "s1"}}
	signIn(c, "t1", false)

	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Math", mock.created.ClassSubject)
	assert.Equal(t, "24", mock.created.NumberOfStudents)
	assert.Equal(t, 9, mock.created.ClassStartTime.Hour())
	assert.Equal(t, "t1", mock.teacherUID)
	assert.Equal(t, "roster.csv", mock.created.Roster.FileName)
	assert.Equal(t, "a,b", mock.rosterBody)
}

func TestClassHandlerCreatePartialFailureMeta(t *testing.T) {
	mock := &classServiceMock{createErr: &service.WorkflowError{
		Step:       service.StepUpload,
		RecordID:   "c9",
		ObjectPath: "Schools/s1/Classes/c9/Attachments/roster.csv",
		Err:        appErrors.Clone(appErrors.ErrPartialWorkflow, "Failed to upload file"),
	}}
	h := NewClassHandler(mock)

	body, contentType := multipartBody(t, map[string]string{"classSubject": "Math", "numberOfStudents": "3"}, "roster", "roster.csv", "x")
	c, w := newTestContext(http.MethodPost, "/schools/s1/classes", body, contentType)
	c.Params = gin.Params{{Key: "schoolId", Value: "s1"}}
	signIn(c, "t1", false)

	h.Create(c)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	envelope := decodeEnvelope(t, w)
	meta := envelope["meta"].(map[string]interface{})
	assert.Equal(t, "upload", meta["step"])
	assert.Equal(t, "c9", meta["recordId"])
}

func TestClassHandlerListMine(t *testing.T) {
	mock := &classServiceMock{}
	h := NewClassHandler(mock)

	c, w := newTestContext(http.MethodGet, "/schools/s1/classes?mine=true", nil, "")
	c.Params = gin.Params{{Key: "schoolId", Value: "s1"}}
	signIn(c, "t1", false)
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", mock.listTeacher)
}

func TestClassHandlerGetMissing(t *testing.T) {
	h := NewClassHandler(&classServiceMock{})

	c, w := newTestContext(http.MethodGet, "/schools/s1/classes/nope", nil, "")
	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClassHandlerDeleteByNameRequiresName(t *testing.T) {
	mock := &classServiceMock{}
	h := NewClassHandler(mock)

	c, w := newTestContext(http.MethodDelete, "/schools/s1/classes", nil, "")
	h.DeleteByName(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodDelete, "/schools/s1/classes?name=Art", nil, "")
	h.DeleteByName(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "Art", mock.deletedNamed)
}
