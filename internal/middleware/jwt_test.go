package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(_ context.Context, token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

func newProtectedRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		fromCtx, _ := service.ClaimsFromContext(c.Request.Context())
		uid := ""
		if fromCtx != nil {
			uid = fromCtx.UserID
		}
		c.JSON(http.StatusOK, gin.H{"userID": c.GetString(ContextUserIDKey), "ctx": uid})
	})
	r.GET("/private", handlers...)
	return r
}

func TestJWTRejectsMissingAndBadTokens(t *testing.T) {
	r := newProtectedRouter(JWT(validatorStub{claims: &models.JWTClaims{UserID: "u1"}}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAttachesClaims(t *testing.T) {
	r := newProtectedRouter(JWT(validatorStub{claims: &models.JWTClaims{UserID: "u1"}}))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userID":"u1","ctx":"u1"}`, w.Body.String())

}

func TestJWTQueryTokenOnlyForWebSocketUpgrade(t *testing.T) {
	r := newProtectedRouter(JWT(validatorStub{claims: &models.JWTClaims{UserID: "u1"}}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private?access_token=good", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/private?access_token=good", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	r := newProtectedRouter(OptionalJWT(validatorStub{claims: &models.JWTClaims{UserID: "u1"}}))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userID":"","ctx":""}`, w.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	member := newProtectedRouter(JWT(validatorStub{claims: &models.JWTClaims{UserID: "u1"}}), RequireAdmin())
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	member.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := newProtectedRouter(JWT(validatorStub{claims: &models.JWTClaims{UserID: "u2", IsAdmin: true}}), RequireAdmin())
	w = httptest.NewRecorder()
	admin.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
