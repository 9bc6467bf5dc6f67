package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

// Accepted activation codes. Compared byte for byte.
var activationCodes = []string{"AOD24", "CA24", "Llama2024"}

// IsActivationCode reports whether code is on the allow-list.
func IsActivationCode(code string) bool {
	for _, accepted := range activationCodes {
		if code == accepted {
			return true
		}
	}
	return false
}

// ActivationSession is the gate state of one client.
type ActivationSession struct {
	Verified      bool `json:"verified"`
	AccountExists bool `json:"accountExists"`
}

type activationStore interface {
	Get(ctx context.Context, collection, id string) (docstore.Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]any, opts ...docstore.SetOption) error
}

// ActivationService checks activation codes and, for signed in users,
// remembers the result on their Users document.
type ActivationService struct {
	store  activationStore
	logger *zap.Logger
}

func NewActivationService(store activationStore, logger *zap.Logger) *ActivationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivationService{store: store, logger: logger}
}

// Activate flips session to verified when code is accepted. A rejected code
// leaves session untouched.
func (s *ActivationService) Activate(ctx context.Context, session *ActivationSession, userID, code string) error {
	if !IsActivationCode(code) {
		return appErrors.Clone(appErrors.ErrInvalidActivationCode, "")
	}

	session.Verified = true
	session.AccountExists = true

	if userID == "" || s.store == nil {
		return nil
	}
	fields := map[string]any{
		"activated":   true,
		"activatedAt": models.Now().UTC(),
	}
	if err := s.store.Set(ctx, models.CollectionUsers, userID, fields, docstore.Merge()); err != nil {
		s.logger.Warn("persist activation", zap.String("user_id", userID), zap.Error(err))
		return appErrors.Transport(err, "Failed to save activation")
	}
	return nil
}

// Status reads the persisted gate state of a user.
func (s *ActivationService) Status(ctx context.Context, userID string) (ActivationSession, error) {
	if userID == "" || s.store == nil {
		return ActivationSession{}, nil
	}
	doc, err := s.store.Get(ctx, models.CollectionUsers, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return ActivationSession{}, nil
	}
	if err != nil {
		return ActivationSession{}, appErrors.Transport(err, "Failed to load activation")
	}
	activated := models.Fields(doc.Fields).Bool("activated")
	return ActivationSession{Verified: activated, AccountExists: true}, nil
}

