package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/imageproc"
)

type teacherStore interface {
	documentReader
	Set(ctx context.Context, collection, id string, fields map[string]any, opts ...docstore.SetOption) error
	Update(ctx context.Context, collection, id string, patch map[string]any) error
}

type schoolFinder interface {
	FindByDomain(ctx context.Context, domain string) (*models.School, error)
}

// OnboardRequest registers the signed in user as a teacher.
type OnboardRequest struct {
	FirstName    string `json:"firstName" validate:"required"`
	LastName     string `json:"lastName" validate:"required"`
	EmailAddress string `json:"emailAddress" validate:"required,email"`
	PushToken    string `json:"pushToken"`
}

// UpdateProfileRequest carries the edited profile. Nil fields are left alone.
type UpdateProfileRequest struct {
	FirstName    *string     `json:"firstName" form:"firstName"`
	LastName     *string     `json:"lastName" form:"lastName"`
	EmailAddress *string     `json:"emailAddress" form:"emailAddress" validate:"omitempty,email"`
	Picture      *Attachment `json:"-" form:"-"`
}

// TeacherService onboards teachers and maintains their profiles.
type TeacherService struct {
	store     teacherStore
	schools   schoolFinder
	blobs     blobWriter
	validator *validator.Validate
	logger    *zap.Logger
	clock     func() time.Time
}

// NewTeacherService constructs a TeacherService.
func NewTeacherService(store teacherStore, schools schoolFinder, blobs blobWriter, validate *validator.Validate, logger *zap.Logger) *TeacherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{store: store, schools: schools, blobs: blobs, validator: validate, logger: logger, clock: time.Now}
}

// Onboard links uid to the school registered for the e-mail domain and
// creates its teacher document with the starting leave balances.
func (s *TeacherService) Onboard(ctx context.Context, uid string, req OnboardRequest) (*models.Teacher, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.EmailAddress = strings.TrimSpace(req.EmailAddress)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Please fill in all fields.")
	}

	domain := req.EmailAddress[strings.LastIndex(req.EmailAddress, "@")+1:]
	school, err := s.schools.FindByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}

	teacher := models.Teacher{
		FirstName:              req.FirstName,
		LastName:               req.LastName,
		EmailAddress:           req.EmailAddress,
		SchoolUID:              school.ID,
		TotalSickTimeAvailable: models.DefaultSickHours,
		TotalPTOAvailable:      models.DefaultPTOHours,
		JoinDate:               s.clock(),
		UID:                    uid,
		PushToken:              req.PushToken,
	}
	if err := s.store.Set(ctx, models.CollectionTeachers, uid, teacher.Fields()); err != nil {
		return nil, appErrors.Transport(err, "Failed to save user data")
	}
	teacher.ID = uid
	s.logger.Info("teacher onboarded", zap.String("uid", uid), zap.String("school_id", school.ID))
	return &teacher, nil
}

func (s *TeacherService) Get(ctx context.Context, uid string) (*models.Teacher, error) {
	doc, err := s.store.Get(ctx, models.CollectionTeachers, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Teacher profile not found")
	}
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to load teacher profile")
	}
	teacher := models.TeacherFromDocument(doc)
	return &teacher, nil
}

// Requester resolves who is filing a time-off request.
func (s *TeacherService) Requester(ctx context.Context, uid string) (Requester, error) {
	teacher, err := s.Get(ctx, uid)
	if err != nil {
		return Requester{}, err
	}
	return Requester{UID: uid, SchoolUID: teacher.SchoolUID, PushToken: teacher.PushToken}, nil
}

// UpdateProfile writes only the fields that differ from the stored profile.
// A new picture is normalised and uploaded first; the profile is patched
// once its URL is known.
func (s *TeacherService) UpdateProfile(ctx context.Context, uid string, req UpdateProfileRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Please enter a valid email address.")
	}
	current, err := s.Get(ctx, uid)
	if err != nil {
		return nil, err
	}

	patch := map[string]any{}
	if req.FirstName != nil && *req.FirstName != current.FirstName {
		patch["firstName"] = *req.FirstName
	}
	if req.LastName != nil && *req.LastName != current.LastName {
		patch["lastName"] = *req.LastName
	}
	if req.EmailAddress != nil && *req.EmailAddress != current.EmailAddress {
		patch["emailAddress"] = *req.EmailAddress
	}

	if req.Picture != nil {
		url, err := s.uploadPicture(ctx, uid, req.Picture)
		if err != nil {
			return nil, err
		}
		patch["profilePictureUrl"] = url
	}

	if len(patch) == 0 {
		return current, nil
	}
	if err := s.store.Set(ctx, models.CollectionTeachers, uid, patch, docstore.Merge()); err != nil {
		return nil, appErrors.Transport(err, "Failed to update profile")
	}
	s.logger.Info("teacher profile updated", zap.String("uid", uid), zap.Int("fields", len(patch)))
	return s.Get(ctx, uid)
}

func (s *TeacherService) uploadPicture(ctx context.Context, uid string, picture *Attachment) (string, error) {
	jpeg, err := imageproc.NormalizeProfilePicture(picture.Content, picture.FileName)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "Please choose a JPEG, PNG or WebP image.")
	}
	objectPath := models.ProfilePicturePath(uid)
	if err := s.blobs.PutFile(ctx, objectPath, bytes.NewReader(jpeg)); err != nil {
		return "", appErrors.Transport(err, "Failed to upload file")
	}
	url, err := s.blobs.DownloadURL(ctx, objectPath)
	if err != nil {
		return "", appErrors.Transport(err, "Failed to get download URL")
	}
	return url, nil
}

func (s *TeacherService) UpdatePushToken(ctx context.Context, uid, token string) error {
	err := s.store.Update(ctx, models.CollectionTeachers, uid, map[string]any{"pushToken": token})
	if errors.Is(err, docstore.ErrNotFound) {
		return appErrors.Clone(appErrors.ErrNotFound, "Teacher profile not found")
	}
	if err != nil {
		return appErrors.Transport(err, "Failed to update push token")
	}
	return nil
}
