package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/export"
)

type timeOffServiceMock struct {
	requester    service.Requester
	created      service.CreateTimeOffRequest
	bulk         service.BulkTimeOffRequest
	bulkCreated  []models.Assignment
	bulkErr      error
	listSchool   string
	listCreator  string
	exportFormat export.Format
	cancelledBy  string
}

func (m *timeOffServiceMock) Create(_ context.Context, requester service.Requester, req service.CreateTimeOffRequest) (*models.Assignment, error) {
	m.requester = requester
	m.created = req
	return &models.Assignment{ID: "a1", CreatedBy: requester.UID}, nil
}

func (m *timeOffServiceMock) CreateBulk(_ context.Context, requester service.Requester, req service.BulkTimeOffRequest) ([]models.Assignment, error) {
	m.requester = requester
	m.bulk = req
	return m.bulkCreated, m.bulkErr
}

func (m *timeOffServiceMock) Get(context.Context, string) (*models.Assignment, error) {
	return &models.Assignment{ID: "a1"}, nil
}

func (m *timeOffServiceMock) ListForSchool(_ context.Context, schoolID, createdBy string) (*service.TimeOffList, error) {
	m.listSchool = schoolID
	m.listCreator = createdBy
	return &service.TimeOffList{ClassNames: map[string]string{}}, nil
}

func (m *timeOffServiceMock) Approve(context.Context, string) (*models.Assignment, error) {
	return &models.Assignment{ID: "a1", Approved: true}, nil
}

func (m *timeOffServiceMock) AdminApprove(context.Context, string) (*models.Assignment, error) {
	return &models.Assignment{ID: "a1"}, nil
}

func (m *timeOffServiceMock) AdminReject(context.Context, string) (*models.Assignment, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "Request not found")
}

func (m *timeOffServiceMock) Cancel(_ context.Context, id, cancelledBy string) (*models.Assignment, error) {
	m.cancelledBy = cancelledBy
	return &models.Assignment{ID: id}, nil
}

func (m *timeOffServiceMock) Delete(context.Context, string) error {
	return appErrors.Clone(appErrors.ErrNotFound, "Time-off request not found")
}

func (m *timeOffServiceMock) Export(_ context.Context, _ string, format export.Format) (*service.ExportFile, error) {
	m.exportFormat = format
	return &service.ExportFile{FileName: "time-off.csv", ContentType: "text/csv", Body: []byte("date\n")}, nil
}

type requesterStub struct {
	err error
}

func (s requesterStub) Requester(_ context.Context, uid string) (service.Requester, error) {
	if s.err != nil {
		return service.Requester{}, s.err
	}
	return service.Requester{UID: uid, SchoolUID: "s1", PushToken: "push"}, nil
}

func TestTimeOffHandlerCreateBindsForm(t *testing.T) {
	mock := &timeOffServiceMock{}
	h := NewTimeOffHandler(mock, requesterStub{})

	body, contentType := multipartBody(t, map[string]string{
		"date":            "2024-10-01T00:00:00Z",
		"classId":         "c1",
		"requestType":     "1",
		"subRequired":     "true",
		"additionalNotes": "flu",
	}, "attachment", "note.pdf", "%PDF")
	c, w := newTestContext(http.MethodPost, "/time-off", body, contentType)
	signIn(c, "t1", false)

	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s1", mock.requester.SchoolUID)
	assert.Equal(t, "c1", mock.created.ClassID)
	assert.Equal(t, models.RequestType(1), mock.created.RequestType)
	assert.True(t, mock.created.SubRequired)
	assert.Equal(t, 2024, mock.created.Date.Year())
	require.NotNil(t, mock.created.Attachment)
	assert.Equal(t, "note.pdf", mock.created.Attachment.FileName)
}

func TestTimeOffHandlerCreateUnknownTeacher(t *testing.T) {
	h := NewTimeOffHandler(&timeOffServiceMock{}, requesterStub{err: appErrors.Clone(appErrors.ErrNotFound, "Teacher profile not found")})

	body, contentType := multipartBody(t, map[string]string{"date": "2024-10-01T00:00:00Z"}, "", "", "")
	c, w := newTestContext(http.MethodPost, "/time-off", body, contentType)
	signIn(c, "ghost", false)

	h.Create(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimeOffHandlerBulkFailureReportsCreatedIDs(t *testing.T) {
	mock := &timeOffServiceMock{
		bulkCreated: []models.Assignment{{ID: "a1"}, {ID: "a2"}},
		bulkErr: &service.WorkflowError{
			Step: service.StepCreateRecord,
			Err:  appErrors.Wrap(nil, appErrors.ErrInternal.Code, http.StatusInternalServerError, "Failed to create document"),
		},
	}
	h := NewTimeOffHandler(mock, requesterStub{})

	body, contentType := multipartBody(t, map[string]string{"date": "2024-10-01T00:00:00Z"}, "", "", "")
	c, w := newTestContext(http.MethodPost, "/time-off/bulk", body, contentType)
	signIn(c, "t1", false)

	h.CreateBulk(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	meta := decodeEnvelope(t, w)["meta"].(map[string]interface{})
	assert.Equal(t, []interface{}{"a1", "a2"}, meta["createdIds"])
	assert.Equal(t, "create_record", meta["step"])
}

func TestTimeOffHandlerListDefaultsToRequesterSchool(t *testing.T) {
	mock := &timeOffServiceMock{}
	h := NewTimeOffHandler(mock, requesterStub{})

	c, w := newTestContext(http.MethodGet, "/time-off?mine=true", nil, "")
	signIn(c, "t1", false)
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", mock.listSchool)
	assert.Equal(t, "t1", mock.listCreator)
}

func TestTimeOffHandlerReviewAndDelete(t *testing.T) {
	mock := &timeOffServiceMock{}
	h := NewTimeOffHandler(mock, requesterStub{})

	c, w := newTestContext(http.MethodPost, "/time-off/a1/approve", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	h.Approve(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newTestContext(http.MethodPost, "/time-off/a1/admin-reject", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	h.AdminReject(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = newTestContext(http.MethodPost, "/time-off/a1/cancel", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	signIn(c, "t1", false)
	h.Cancel(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", mock.cancelledBy)

	c, w = newTestContext(http.MethodDelete, "/time-off/a1", nil, "")
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	h.Delete(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimeOffHandlerExport(t *testing.T) {
	mock := &timeOffServiceMock{}
	h := NewTimeOffHandler(mock, requesterStub{})

	c, w := newTestContext(http.MethodGet, "/time-off/export?format=xls", nil, "")
	signIn(c, "t1", false)
	h.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodGet, "/time-off/export", nil, "")
	signIn(c, "t1", false)
	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.FormatCSV, mock.exportFormat)
	assert.Equal(t, `attachment; filename="time-off.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "date\n", w.Body.String())
}
