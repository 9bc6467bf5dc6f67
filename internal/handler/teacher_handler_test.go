package handler

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
)

type teacherServiceMock struct {
	onboarded service.OnboardRequest
	profile   service.UpdateProfileRequest
	pushToken string
}

func (m *teacherServiceMock) Onboard(_ context.Context, uid string, req service.OnboardRequest) (*models.Teacher, error) {
	m.onboarded = req
	return &models.Teacher{ID: uid}, nil
}

func (m *teacherServiceMock) Get(_ context.Context, uid string) (*models.Teacher, error) {
	return &models.Teacher{ID: uid}, nil
}

func (m *teacherServiceMock) UpdateProfile(_ context.Context, uid string, req service.UpdateProfileRequest) (*models.Teacher, error) {
	m.profile = req
	return &models.Teacher{ID: uid}, nil
}

func (m *teacherServiceMock) UpdatePushToken(_ context.Context, _, token string) error {
	m.pushToken = token
	return nil
}

func TestTeacherHandlerUpdateProfileMultipart(t *testing.T) {
	mock := &teacherServiceMock{}
	h := NewTeacherHandler(mock)

	body, contentType := multipartBody(t, map[string]string{"firstName": "Ada"}, "picture", "me.png", "png-bytes")
	c, w := newTestContext(http.MethodPatch, "/teachers/me", body, contentType)
	signIn(c, "t1", false)
	h.UpdateProfile(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.profile.FirstName)
	assert.Equal(t, "Ada", *mock.profile.FirstName)
	assert.Nil(t, mock.profile.LastName)
	require.NotNil(t, mock.profile.Picture)
	assert.Equal(t, "me.png", mock.profile.Picture.FileName)
}

func TestTeacherHandlerUpdatePushToken(t *testing.T) {
	mock := &teacherServiceMock{}
	h := NewTeacherHandler(mock)

	c, w := newTestContext(http.MethodPut, "/teachers/me/push-token", bytes.NewBufferString(`{}`), "application/json")
	signIn(c, "t1", false)
	h.UpdatePushToken(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodPut, "/teachers/me/push-token", bytes.NewBufferString(`{"pushToken":"ExponentPushToken[x]"}`), "application/json")
	signIn(c, "t1", false)
	h.UpdatePushToken(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "ExponentPushToken[x]", mock.pushToken)
}

func TestTeacherHandlerRequiresSignIn(t *testing.T) {
	h := NewTeacherHandler(&teacherServiceMock{})
	c, w := newTestContext(http.MethodGet, "/teachers/me", nil, "")
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
