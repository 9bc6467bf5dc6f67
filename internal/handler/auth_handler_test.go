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
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type authServiceMock struct {
	registered   *models.RegisterRequest
	loginErr     error
	signedOut    *models.JWTClaims
	deleted      *models.JWTClaims
	meResp       *models.UserInfo
	resetRequest *models.ResetPasswordRequest
}

func (m *authServiceMock) Register(_ context.Context, req models.RegisterRequest) (*models.LoginResponse, error) {
	m.registered = &req
	return &models.LoginResponse{AccessToken: "tok", User: models.UserInfo{ID: "u1", Email: req.Email}}, nil
}

func (m *authServiceMock) SignInWithPassword(context.Context, models.LoginRequest) (*models.LoginResponse, error) {
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "tok"}, nil
}

func (m *authServiceMock) SignInWithFederatedCredential(context.Context, models.FederatedLoginRequest) (*models.LoginResponse, error) {
	return &models.LoginResponse{AccessToken: "google"}, nil
}

func (m *authServiceMock) Me(_ context.Context, userID string) (*models.UserInfo, error) {
	return m.meResp, nil
}

func (m *authServiceMock) SendPasswordReset(_ context.Context, req models.ResetPasswordRequest) error {
	m.resetRequest = &req
	return nil
}

func (m *authServiceMock) ConfirmPasswordReset(context.Context, models.ConfirmResetPasswordRequest) error {
	return nil
}

func (m *authServiceMock) SignOut(_ context.Context, claims *models.JWTClaims) error {
	m.signedOut = claims
	return nil
}

func (m *authServiceMock) DeleteCurrentUser(_ context.Context, claims *models.JWTClaims) error {
	m.deleted = claims
	return nil
}

func TestAuthHandlerRegister(t *testing.T) {
	mock := &authServiceMock{}
	h := NewAuthHandler(mock)

	c, w := newTestContext(http.MethodPost, "/auth/register", bytes.NewBufferString(`{"email":"a@north.edu","password":"secret1"}`), "application/json")
	h.Register(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mock.registered)
	assert.Equal(t, "a@north.edu", mock.registered.Email)
}

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})

	c, w := newTestContext(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":`), "application/json")
	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerLoginWrongPassword(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{loginErr: appErrors.ErrInvalidCredentials})

	c, w := newTestContext(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"a@north.edu","password":"x"}`), "application/json")
	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "INVALID_CREDENTIALS", body["error"].(map[string]interface{})["code"])
}

func TestAuthHandlerLogoutAndDelete(t *testing.T) {
	mock := &authServiceMock{}
	h := NewAuthHandler(mock)

	c, w := newTestContext(http.MethodPost, "/auth/logout", nil, "")
	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newTestContext(http.MethodPost, "/auth/logout", nil, "")
	signIn(c, "u1", false)
	h.Logout(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u1", mock.signedOut.UserID)

	c, w = newTestContext(http.MethodDelete, "/auth/me", nil, "")
	signIn(c, "u1", false)
	h.DeleteAccount(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u1", mock.deleted.UserID)
}

func TestAuthHandlerForgotPasswordAlwaysAccepted(t *testing.T) {
	mock := &authServiceMock{}
	h := NewAuthHandler(mock)

	c, w := newTestContext(http.MethodPost, "/auth/forgot-password", bytes.NewBufferString(`{"email":"ghost@north.edu"}`), "application/json")
	h.ForgotPassword(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "ghost@north.edu", mock.resetRequest.Email)
}

type activationServiceMock struct {
	userID string
}

func (m *activationServiceMock) Activate(_ context.Context, session *service.ActivationSession, userID, code string) error {
	m.userID = userID
	if !service.IsActivationCode(code) {
		return appErrors.Clone(appErrors.ErrInvalidActivationCode, "")
	}
	session.Verified = true
	session.AccountExists = true
	return nil
}

func (m *activationServiceMock) Status(context.Context, string) (service.ActivationSession, error) {
	return service.ActivationSession{Verified: true, AccountExists: true}, nil
}

func TestActivationHandler(t *testing.T) {
	mock := &activationServiceMock{}
	h := NewActivationHandler(mock)

	c, w := newTestContext(http.MethodPost, "/activation", bytes.NewBufferString(`{"code":"aod24"}`), "application/json")
	h.Activate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "INVALID_ACTIVATION_CODE", body["error"].(map[string]interface{})["code"])

	c, w = newTestContext(http.MethodPost, "/activation", bytes.NewBufferString(`{"code":"CA24"}`), "application/json")
	signIn(c, "u7", false)
	h.Activate(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u7", mock.userID)
	assert.JSONEq(t, `{"verified":true,"accountExists":true}`, mustJSON(t, decodeEnvelope(t, w)["data"]))
}
