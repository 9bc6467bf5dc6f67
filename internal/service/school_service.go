package service

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/pkg/cache"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/storage"
)

type schoolStore interface {
	documentReader
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
}

type blobReader interface {
	ListChildren(ctx context.Context, prefix string) ([]string, error)
	GetFile(ctx context.Context, objectPath string) (io.ReadCloser, error)
	DownloadURL(ctx context.Context, objectPath string) (string, error)
}

// PolicyAttachment is one document stored under a school's attachments.
type PolicyAttachment struct {
	Name        string `json:"name"`
	ObjectPath  string `json:"objectPath"`
	DownloadURL string `json:"downloadUrl"`
}

// SchoolService manages schools and their policy documents.
type SchoolService struct {
	store    schoolStore
	blobs    blobReader
	cache    *CacheService
	cacheTTL time.Duration
	validate *validator.Validate
	logger   *zap.Logger
}

func NewSchoolService(store schoolStore, blobs blobReader, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *SchoolService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolService{store: store, blobs: blobs, cache: cache, cacheTTL: cacheTTL, validate: validate, logger: logger}
}

func (s *SchoolService) Create(ctx context.Context, school models.School) (*models.School, error) {
	school.SchoolName = strings.TrimSpace(school.SchoolName)
	school.Domain = normalizeDomain(school.Domain)
	if err := s.validate.Struct(school); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}

	id, err := s.store.Add(ctx, models.CollectionSchools, school.Fields())
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to save school")
	}
	school.ID = id
	s.cache.Evict(ctx, schoolDomainKey(school.Domain))
	s.logger.Info("school created", zap.String("school_id", id), zap.String("domain", school.Domain))
	return &school, nil
}

func (s *SchoolService) List(ctx context.Context) ([]models.School, error) {
	docs, err := s.store.Query(ctx, models.CollectionSchools, nil)
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to fetch schools")
	}
	schools := make([]models.School, 0, len(docs))
	for _, doc := range docs {
		schools = append(schools, models.SchoolFromDocument(doc))
	}
	return schools, nil
}

func (s *SchoolService) Get(ctx context.Context, id string) (*models.School, error) {
	doc, err := s.store.Get(ctx, models.CollectionSchools, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "School not found")
	}
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to load school")
	}
	school := models.SchoolFromDocument(doc)
	return &school, nil
}

// FindByDomain returns the first school registered for domain. Matches are
// cached; misses are not.
func (s *SchoolService) FindByDomain(ctx context.Context, domain string) (*models.School, error) {
	domain = normalizeDomain(domain)
	if domain == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "domain is required")
	}

	key := schoolDomainKey(domain)
	var cached models.School
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	docs, err := s.store.Query(ctx, models.CollectionSchools, docstore.Filters{"domain": domain})
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to fetch schools")
	}
	if len(docs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "There was no school found with the domain name "+domain)
	}
	school := models.SchoolFromDocument(docs[0])
	s.cache.Set(ctx, key, school, s.cacheTTL)
	return &school, nil
}

// PolicyAttachments lists the documents stored for a school with a download
// URL for each.
func (s *SchoolService) PolicyAttachments(ctx context.Context, schoolID string) ([]PolicyAttachment, error) {
	prefix := models.SchoolAttachmentsPath(schoolID)
	names, err := s.blobs.ListChildren(ctx, prefix)
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to list attachments")
	}
	out := make([]PolicyAttachment, 0, len(names))
	for _, name := range names {
		objectPath := path.Join(prefix, name)
		url, err := s.blobs.DownloadURL(ctx, objectPath)
		if err != nil {
			return nil, appErrors.Transport(err, "Failed to get download URL")
		}
		out = append(out, PolicyAttachment{Name: name, ObjectPath: objectPath, DownloadURL: url})
	}
	return out, nil
}

// OpenPolicyAttachment streams one policy document. The caller closes it.
func (s *SchoolService) OpenPolicyAttachment(ctx context.Context, schoolID, name string) (io.ReadCloser, error) {
	objectPath := path.Join(models.SchoolAttachmentsPath(schoolID), path.Base(path.Clean("/"+name)))
	rc, err := s.blobs.GetFile(ctx, objectPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Attachment not found")
	}
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to open attachment")
	}
	return rc, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func schoolDomainKey(domain string) string {
	return cache.Key("school", "domain", domain)
}
