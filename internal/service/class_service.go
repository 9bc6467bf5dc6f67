package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type documentReader interface {
	Get(ctx context.Context, collection, id string) (docstore.Document, error)
	Query(ctx context.Context, collection string, filters docstore.Filters) ([]docstore.Document, error)
}

type classStore interface {
	documentReader
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

type attachRunner interface {
	Run(ctx context.Context, req AttachRequest) (AttachResult, error)
}

// CreateClassRequest is the new class form. NumberOfStudents is kept as
// entered so it can be validated with a user facing message.
type CreateClassRequest struct {
	ClassSubject     string      `json:"classSubject" form:"classSubject"`
	NumberOfStudents string      `json:"numberOfStudents" form:"numberOfStudents"`
	ClassStartTime   time.Time   `json:"classStartTime" form:"classStartTime" time_format:"2006-01-02T15:04:05Z07:00"`
	ClassEndTime     time.Time   `json:"classEndTime" form:"classEndTime" time_format:"2006-01-02T15:04:05Z07:00"`
	Roster           *Attachment `json:"-" form:"-"`
}

// UpdateClassTimesRequest moves a class.
type UpdateClassTimesRequest struct {
	ClassStartTime time.Time `json:"classStartTime"`
	ClassEndTime   time.Time `json:"classEndTime"`
}

// ClassService manages the classes of a school.
type ClassService struct {
	store    classStore
	workflow attachRunner
	logger   *zap.Logger
}

func NewClassService(store classStore, workflow attachRunner, logger *zap.Logger) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{store: store, workflow: workflow, logger: logger}
}

// ValidateClass checks the form and returns the parsed student count.
func ValidateClass(req CreateClassRequest) (int, error) {
	if strings.TrimSpace(req.ClassSubject) == "" || strings.TrimSpace(req.NumberOfStudents) == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "Please fill in all fields.")
	}
	students, err := strconv.Atoi(strings.TrimSpace(req.NumberOfStudents))
	if err != nil || students < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "Please enter a valid number of students.")
	}
	if req.ClassEndTime.Before(req.ClassStartTime) {
		return 0, appErrors.Clone(appErrors.ErrValidation, "Class end time must not be before its start time.")
	}
	return students, nil
}

// Create stores a class for teacherUID and attaches the optional roster.
func (s *ClassService) Create(ctx context.Context, schoolID, teacherUID string, req CreateClassRequest) (*models.Class, error) {
	students, err := ValidateClass(req)
	if err != nil {
		return nil, err
	}

	subject := strings.TrimSpace(req.ClassSubject)
	class := models.Class{
		ClassName:        subject,
		ClassSubject:     subject,
		NumberOfStudents: students,
		SchoolUID:        schoolID,
		TeacherUID:       teacherUID,
	}
	class.SetTimes(req.ClassStartTime, req.ClassEndTime)

	attachReq := AttachRequest{
		Entity:          "class",
		Collection:      models.ClassesCollection(schoolID),
		Fields:          class.Fields(),
		Attachment:      req.Roster,
		AttachmentField: "classRosterURL",
	}
	if req.Roster != nil {
		fileName := req.Roster.FileName
		attachReq.ObjectPath = func(id string) string { return models.ClassRosterPath(schoolID, id, fileName) }
	}

	result, err := s.workflow.Run(ctx, attachReq)
	if err != nil {
		return nil, err
	}
	class.ID = result.RecordID
	class.ClassRosterURL = result.AttachmentURL
	s.logger.Info("class created", zap.String("school_id", schoolID), zap.String("class_id", class.ID))
	return &class, nil
}

// ListForSchool returns the classes of a school, optionally only those of
// one teacher.
func (s *ClassService) ListForSchool(ctx context.Context, schoolID, teacherUID string) ([]models.Class, error) {
	filters := docstore.Filters{}
	if teacherUID != "" {
		filters["teacherUID"] = teacherUID
	}
	docs, err := s.store.Query(ctx, models.ClassesCollection(schoolID), filters)
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to fetch classes")
	}
	classes := make([]models.Class, 0, len(docs))
	for _, doc := range docs {
		classes = append(classes, models.ClassFromDocument(doc))
	}
	return classes, nil
}

func (s *ClassService) Get(ctx context.Context, schoolID, classID string) (*models.Class, error) {
	doc, err := s.store.Get(ctx, models.ClassesCollection(schoolID), classID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Class not found")
	}
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to load class")
	}
	class := models.ClassFromDocument(doc)
	return &class, nil
}

// UpdateTimes moves a class and recomputes its duration.
func (s *ClassService) UpdateTimes(ctx context.Context, schoolID, classID string, req UpdateClassTimesRequest) (*models.Class, error) {
	if req.ClassEndTime.Before(req.ClassStartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Class end time must not be before its start time.")
	}
	var class models.Class
	class.SetTimes(req.ClassStartTime, req.ClassEndTime)

	patch := map[string]any{
		"classStartTime": class.ClassStartTime,
		"classEndTime":   class.ClassEndTime,
		"duration":       class.Duration,
	}
	if err := s.store.Update(ctx, models.ClassesCollection(schoolID), classID, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Class not found")
		}
		return nil, appErrors.Transport(err, "Failed to update class data")
	}
	return s.Get(ctx, schoolID, classID)
}

func (s *ClassService) Delete(ctx context.Context, schoolID, classID string) error {
	if err := s.store.Delete(ctx, models.ClassesCollection(schoolID), classID); err != nil {
		return appErrors.Transport(err, "Failed to delete class")
	}
	s.logger.Info("class deleted", zap.String("school_id", schoolID), zap.String("class_id", classID))
	return nil
}

// DeleteByName removes the first class named className.
func (s *ClassService) DeleteByName(ctx context.Context, schoolID, className string) error {
	docs, err := s.store.Query(ctx, models.ClassesCollection(schoolID), docstore.Filters{"className": className})
	if err != nil {
		return appErrors.Transport(err, "Failed to delete class")
	}
	if len(docs) == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "Class not found")
	}
	return s.Delete(ctx, schoolID, docs[0].ID)
}
