package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/repository"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type googleVerifierStub struct {
	identity FederatedIdentity
	err      error
}

func (g googleVerifierStub) Verify(string) (FederatedIdentity, error) {
	return g.identity, g.err
}

type resetNotifierStub struct {
	email string
	token string
}

func (n *resetNotifierStub) SendPasswordReset(_ context.Context, email, token string) error {
	n.email = email
	n.token = token
	return nil
}

func newAuthFixture(t *testing.T, google GoogleVerifier) (*AuthService, *docstore.MemoryStore, *resetNotifierStub) {
	t.Helper()
	store := docstore.NewMemoryStore()
	notifier := &resetNotifierStub{}
	svc := NewAuthService(store, repository.NewSessionRepository(nil), google, notifier, nil, nil, AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "mili-llama-api",
	})
	return svc, store, notifier
}

func TestAuthServiceRegisterAndSignIn(t *testing.T) {
	svc, _, _ := newAuthFixture(t, nil)
	ctx := context.Background()

	registered, err := svc.Register(ctx, models.RegisterRequest{Email: "Teacher@North.edu", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "teacher@north.edu", registered.User.Email)
	assert.Equal(t, int64(3600), registered.ExpiresIn)

	resp, err := svc.SignInWithPassword(ctx, models.LoginRequest{Email: "teacher@north.edu", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, resp.User.ID)

	claims, err := svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, claims.UserID)
	assert.NotEmpty(t, claims.ID)
}

func TestAuthServiceRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _ := newAuthFixture(t, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, models.RegisterRequest{Email: "a@north.edu", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, models.RegisterRequest{Email: "A@north.edu", Password: "secret2"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestAuthServiceSignInWrongPassword(t *testing.T) {
	svc, _, _ := newAuthFixture(t, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, models.RegisterRequest{Email: "a@north.edu", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.SignInWithPassword(ctx, models.LoginRequest{Email: "a@north.edu", Password: "nope"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.SignInWithPassword(ctx, models.LoginRequest{Email: "ghost@north.edu", Password: "nope"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestAuthServiceFederatedLinksExistingAccount(t *testing.T) {
	google := googleVerifierStub{identity: FederatedIdentity{Subject: "g-1", Email: "a@north.edu", Name: "Ada"}}
	svc, store, _ := newAuthFixture(t, google)
	ctx := context.Background()
	registered, err := svc.Register(ctx, models.RegisterRequest{Email: "a@north.edu", Password: "secret1"})
	require.NoError(t, err)

	resp, err := svc.SignInWithFederatedCredential(ctx, models.FederatedLoginRequest{IDToken: "token"})
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, resp.User.ID)

	doc, err := store.Get(ctx, models.CollectionUsers, registered.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "g-1", doc.Fields["googleSub"])

	again, err := svc.SignInWithFederatedCredential(ctx, models.FederatedLoginRequest{IDToken: "token"})
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, again.User.ID)
}

func TestAuthServiceFederatedCreatesAccount(t *testing.T) {
	google := googleVerifierStub{identity: FederatedIdentity{Subject: "g-2", Email: "new@north.edu", Name: "Grace"}}
	svc, store, _ := newAuthFixture(t, google)
	ctx := context.Background()

	resp, err := svc.SignInWithFederatedCredential(ctx, models.FederatedLoginRequest{IDToken: "token"})
	require.NoError(t, err)
	assert.Equal(t, "Grace", resp.User.Name)

	docs, err := store.Query(ctx, models.CollectionUsers, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestAuthServiceFederatedRejectsBadToken(t *testing.T) {
	svc, _, _ := newAuthFixture(t, googleVerifierStub{err: errors.New("bad audience")})

	_, err := svc.SignInWithFederatedCredential(context.Background(), models.FederatedLoginRequest{IDToken: "token"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceSignOutRevokesToken(t *testing.T) {
	svc, _, _ := newAuthFixture(t, nil)
	ctx := context.Background()
	resp, err := svc.Register(ctx, models.RegisterRequest{Email: "a@north.edu", Password: "secret1"})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, claims))

	_, err = svc.ValidateToken(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServicePasswordResetFlow(t *testing.T) {
	svc, _, notifier := newAuthFixture(t, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, models.RegisterRequest{Email: "a@north.edu", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, svc.SendPasswordReset(ctx, models.ResetPasswordRequest{Email: "a@north.edu"}))
	require.NotEmpty(t, notifier.token)

	require.NoError(t, svc.ConfirmPasswordReset(ctx, models.ConfirmResetPasswordRequest{Token: notifier.token, NewPassword: "changed1"}))
	_, err = svc.SignInWithPassword(ctx, models.LoginRequest{Email: "a@north.edu", Password: "changed1"})
	require.NoError(t, err)

	err = svc.ConfirmPasswordReset(ctx, models.ConfirmResetPasswordRequest{Token: notifier.token, NewPassword: "again12"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServicePasswordResetUnknownEmailIsSilent(t *testing.T) {
	svc, _, notifier := newAuthFixture(t, nil)

	require.NoError(t, svc.SendPasswordReset(context.Background(), models.ResetPasswordRequest{Email: "ghost@north.edu"}))
	assert.Empty(t, notifier.token)
}

func TestAuthServiceDeleteCurrentUser(t *testing.T) {
	svc, store, _ := newAuthFixture(t, nil)
	ctx := context.Background()
	resp, err := svc.Register(ctx, models.RegisterRequest{Email: "a@north.edu", Password: "secret1"})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCurrentUser(ctx, claims))

	_, err = store.Get(ctx, models.CollectionUsers, claims.UserID)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = svc.ValidateToken(ctx, resp.AccessToken)
	assert.Error(t, err)
}

func TestAuthServiceCurrentUserID(t *testing.T) {
	svc, _, _ := newAuthFixture(t, nil)

	_, ok := svc.CurrentUserID(context.Background())
	assert.False(t, ok)

	ctx := ContextWithClaims(context.Background(), &models.JWTClaims{UserID: "u1"})
	id, ok := svc.CurrentUserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}
