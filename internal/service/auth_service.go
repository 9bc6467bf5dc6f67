package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type identityStore interface {
	Get(ctx context.Context, collection, id string) (docstore.Document, error)
	Query(ctx context.Context, collection string, filters docstore.Filters) ([]docstore.Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]any, opts ...docstore.SetOption) error
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

type sessionStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	SavePasswordReset(ctx context.Context, token, userID string, ttl time.Duration) error
	ConsumePasswordReset(ctx context.Context, token string) (string, error)
}

// FederatedIdentity is the verified subject of a Google ID token.
type FederatedIdentity struct {
	Subject string
	Email   string
	Name    string
}

// GoogleVerifier checks a Google ID token against the configured client.
type GoogleVerifier interface {
	Verify(idToken string) (FederatedIdentity, error)
}

type googleIDTokenVerifier struct {
	clientID string
	verifier googleAuthIDTokenVerifier.Verifier
}

// NewGoogleVerifier verifies tokens issued for clientID.
func NewGoogleVerifier(clientID string) GoogleVerifier {
	return &googleIDTokenVerifier{clientID: clientID}
}

func (g *googleIDTokenVerifier) Verify(idToken string) (FederatedIdentity, error) {
	if g.clientID == "" {
		return FederatedIdentity{}, errors.New("google sign-in is not configured")
	}
	if err := g.verifier.VerifyIDToken(idToken, []string{g.clientID}); err != nil {
		return FederatedIdentity{}, err
	}
	claimSet, err := googleAuthIDTokenVerifier.Decode(idToken)
	if err != nil {
		return FederatedIdentity{}, err
	}
	return FederatedIdentity{Subject: claimSet.Sub, Email: claimSet.Email, Name: claimSet.Name}, nil
}

// ResetNotifier delivers password reset tokens to their owner.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

type logResetNotifier struct {
	logger *zap.Logger
}

func (n logResetNotifier) SendPasswordReset(_ context.Context, email, _ string) error {
	n.logger.Info("password reset issued", zap.String("email", email))
	return nil
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	PasswordResetTTL  time.Duration
}

// AuthService is the identity provider: password and Google sign-in, sign
// out, password reset and account deletion. Accounts live in the Users
// collection keyed by user id.
type AuthService struct {
	store     identityStore
	sessions  sessionStore
	google    GoogleVerifier
	notifier  ResetNotifier
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(store identityStore, sessions sessionStore, google GoogleVerifier, notifier ResetNotifier, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if notifier == nil {
		notifier = logResetNotifier{logger: logger}
	}
	if config.PasswordResetTTL <= 0 {
		config.PasswordResetTTL = time.Hour
	}
	return &AuthService{
		store:     store,
		sessions:  sessions,
		google:    google,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Register creates a password account and signs it in.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	email := normalizeEmail(req.Email)

	existing, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := models.User{
		ID:           uuid.NewString(),
		EmailAddress: email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Set(ctx, models.CollectionUsers, user.ID, user.Fields()); err != nil {
		return nil, appErrors.Transport(err, "Failed to create account")
	}
	s.logger.Info("account registered", zap.String("user_id", user.ID))

	return s.issue(user)
}

// SignInWithPassword authenticates an e-mail and password pair.
func (s *AuthService) SignInWithPassword(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.findByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	return s.issue(*user)
}

// SignInWithFederatedCredential exchanges a Google ID token for a session,
// linking or creating the account on first use.
func (s *AuthService) SignInWithFederatedCredential(ctx context.Context, req models.FederatedLoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid credential payload")
	}
	if s.google == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "federated sign-in is disabled")
	}

	identity, err := s.google.Verify(req.IDToken)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid Google ID token")
	}

	docs, err := s.store.Query(ctx, models.CollectionUsers, docstore.Filters{"googleSub": identity.Subject})
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to load account")
	}
	if len(docs) > 0 {
		return s.issue(models.UserFromDocument(docs[0]))
	}

	email := normalizeEmail(identity.Email)
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		user.GoogleSub = identity.Subject
		if err := s.store.Update(ctx, models.CollectionUsers, user.ID, map[string]any{"googleSub": identity.Subject}); err != nil {
			return nil, appErrors.Transport(err, "Failed to link account")
		}
		return s.issue(*user)
	}

	created := models.User{
		ID:           uuid.NewString(),
		EmailAddress: email,
		GoogleSub:    identity.Subject,
		DisplayName:  identity.Name,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Set(ctx, models.CollectionUsers, created.ID, created.Fields()); err != nil {
		return nil, appErrors.Transport(err, "Failed to create account")
	}
	s.logger.Info("account created from google sign-in", zap.String("user_id", created.ID))
	return s.issue(created)
}

// CurrentUserID returns the signed in user carried by ctx.
func (s *AuthService) CurrentUserID(ctx context.Context) (string, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}

// Me returns the account of userID with a fresh admin flag.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	doc, err := s.store.Get(ctx, models.CollectionUsers, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
	}
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to load account")
	}
	info := userInfo(models.UserFromDocument(doc))
	return &info, nil
}

// SendPasswordReset issues a single use reset token. Unknown addresses are
// accepted silently so the endpoint does not reveal which accounts exist.
func (s *AuthService) SendPasswordReset(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}
	email := normalizeEmail(req.Email)
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		s.logger.Debug("password reset for unknown email")
		return nil
	}

	token, err := randomToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reset token")
	}
	if err := s.sessions.SavePasswordReset(ctx, token, user.ID, s.config.PasswordResetTTL); err != nil {
		return appErrors.Transport(err, "Failed to send password reset")
	}
	if err := s.notifier.SendPasswordReset(ctx, email, token); err != nil {
		return appErrors.Transport(err, "Failed to send password reset")
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a reset token.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, req models.ConfirmResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}
	userID, err := s.sessions.ConsumePasswordReset(ctx, req.Token)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "reset token is invalid or expired")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.store.Update(ctx, models.CollectionUsers, userID, map[string]any{"passwordHash": string(hash)}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return appErrors.Transport(err, "Failed to update password")
	}
	return nil
}

// SignOut revokes the access token described by claims until it expires.
func (s *AuthService) SignOut(ctx context.Context, claims *models.JWTClaims) error {
	if claims == nil || claims.ID == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "missing session")
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(s.now()); remaining > 0 {
			ttl = remaining
		}
	}
	if err := s.sessions.Revoke(ctx, claims.ID, ttl); err != nil {
		return appErrors.Transport(err, "Failed to sign out")
	}
	return nil
}

// DeleteCurrentUser removes the account and ends the session. Teacher
// profiles and requests created by the account are kept.
func (s *AuthService) DeleteCurrentUser(ctx context.Context, claims *models.JWTClaims) error {
	if claims == nil || claims.UserID == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "missing session")
	}
	if err := s.store.Delete(ctx, models.CollectionUsers, claims.UserID); err != nil {
		return appErrors.Transport(err, "Failed to delete account")
	}
	s.logger.Info("account deleted", zap.String("user_id", claims.UserID))
	return s.SignOut(ctx, claims)
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	revoked, err := s.sessions.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, appErrors.Transport(err, "failed to check session")
	}
	if revoked {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session has ended")
	}

	return claims, nil
}

func (s *AuthService) findByEmail(ctx context.Context, email string) (*models.User, error) {
	docs, err := s.store.Query(ctx, models.CollectionUsers, docstore.Filters{"emailAddress": email})
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to load account")
	}
	if len(docs) == 0 {
		return nil, nil
	}
	user := models.UserFromDocument(docs[0])
	return &user, nil
}

func (s *AuthService) issue(user models.User) (*models.LoginResponse, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:  user.ID,
		Email:   user.EmailAddress,
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	return &models.LoginResponse{
		AccessToken: signed,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:    issuedAt,
		User:        userInfo(user),
	}, nil
}

func userInfo(user models.User) models.UserInfo {
	return models.UserInfo{
		ID:      user.ID,
		Email:   user.EmailAddress,
		Name:    user.DisplayName,
		IsAdmin: user.IsAdmin,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type claimsContextKey struct{}

// ContextWithClaims attaches verified claims to ctx.
func ContextWithClaims(ctx context.Context, claims *models.JWTClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the claims set by ContextWithClaims.
func ClaimsFromContext(ctx context.Context) (*models.JWTClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*models.JWTClaims)
	return claims, ok && claims != nil
}
