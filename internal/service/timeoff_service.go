package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/export"
)

type timeOffStore interface {
	documentReader
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// Requester identifies who files a request and for which school.
type Requester struct {
	UID       string
	SchoolUID string
	PushToken string
}

// CreateTimeOffRequest is a single request, either for one class or personal
// when ClassID is empty.
type CreateTimeOffRequest struct {
	Date            time.Time          `json:"date" form:"date" time_format:"2006-01-02T15:04:05Z07:00"`
	ClassID         string             `json:"classId" form:"classId"`
	AdditionalNotes string             `json:"additionalNotes" form:"additionalNotes"`
	RequestType     models.RequestType `json:"requestType" form:"requestType"`
	SubRequired     bool               `json:"subRequired" form:"subRequired"`
	FullDayOff      bool               `json:"fullDayOff" form:"fullDayOff"`
	StartTime       time.Time          `json:"startTime" form:"startTime" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime         time.Time          `json:"endTime" form:"endTime" time_format:"2006-01-02T15:04:05Z07:00"`
	Attachment      *Attachment        `json:"-" form:"-"`
}

// BulkTimeOffRequest files one request per selected class.
type BulkTimeOffRequest struct {
	Date            time.Time          `json:"date" form:"date" time_format:"2006-01-02T15:04:05Z07:00"`
	AdditionalNotes string             `json:"additionalNotes" form:"additionalNotes"`
	ClassIDs        []string           `json:"classIds" form:"classIds"`
	RequestType     models.RequestType `json:"requestType" form:"requestType"`
	SubRequired     bool               `json:"subRequired" form:"subRequired"`
	FullDayOff      bool               `json:"fullDayOff" form:"fullDayOff"`
	StartTime       time.Time          `json:"startTime" form:"startTime" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime         time.Time          `json:"endTime" form:"endTime" time_format:"2006-01-02T15:04:05Z07:00"`
	Attachment      *Attachment        `json:"-" form:"-"`
}

// TimeOffList is the requests screen payload.
type TimeOffList struct {
	Requests   []models.Assignment `json:"requests"`
	ClassNames map[string]string   `json:"classNames"`
}

// ExportFile is a rendered report.
type ExportFile struct {
	FileName    string
	ContentType string
	Body        []byte
}

// TimeOffService files, reviews and reports time-off requests.
type TimeOffService struct {
	store    timeOffStore
	workflow attachRunner
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

func NewTimeOffService(store timeOffStore, workflow attachRunner, logger *zap.Logger) *TimeOffService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeOffService{
		store:    store,
		workflow: workflow,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

func validateTimeOff(requester Requester, date time.Time, requestType models.RequestType, start, end time.Time) error {
	if requester.UID == "" || requester.SchoolUID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "Your profile is not linked to a school.")
	}
	if date.IsZero() {
		return appErrors.Clone(appErrors.ErrValidation, "Please select a date.")
	}
	if requestType < models.RequestTypeVacation || requestType > models.RequestTypeUnpaidLeave {
		return appErrors.Clone(appErrors.ErrValidation, "Please select a valid request type.")
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return appErrors.Clone(appErrors.ErrValidation, "End time must not be before start time.")
	}
	return nil
}

// Create files a single request and attaches the optional document.
func (s *TimeOffService) Create(ctx context.Context, requester Requester, req CreateTimeOffRequest) (*models.Assignment, error) {
	if err := validateTimeOff(requester, req.Date, req.RequestType, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	return s.create(ctx, requester, req)
}

func (s *TimeOffService) create(ctx context.Context, requester Requester, req CreateTimeOffRequest) (*models.Assignment, error) {
	assignment := models.Assignment{
		Date:            req.Date,
		ClassID:         strings.TrimSpace(req.ClassID),
		SchoolUID:       requester.SchoolUID,
		AdditionalNotes: strings.TrimSpace(req.AdditionalNotes),
		CreatedBy:       requester.UID,
		RequestType:     req.RequestType,
		SubRequired:     req.SubRequired,
		FullDayOff:      req.FullDayOff,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		PushToken:       requester.PushToken,
	}
	if assignment.StartTime.IsZero() {
		assignment.StartTime = req.Date
	}
	if assignment.EndTime.IsZero() {
		assignment.EndTime = assignment.StartTime
	}

	attachReq := AttachRequest{
		Entity:          "time-off request",
		Collection:      models.CollectionAssignments,
		Fields:          assignment.Fields(),
		Attachment:      req.Attachment,
		AttachmentField: "attachments",
		AttachmentValue: func(url string) any { return []string{url} },
	}
	if req.Attachment != nil {
		fileName := req.Attachment.FileName
		attachReq.ObjectPath = func(id string) string {
			return models.AssignmentAttachmentPath(requester.SchoolUID, assignment.ClassID, id, fileName)
		}
	}

	result, err := s.workflow.Run(ctx, attachReq)
	if err != nil {
		return nil, err
	}
	assignment.ID = result.RecordID
	if result.AttachmentURL != "" {
		assignment.Attachments = []string{result.AttachmentURL}
	}
	s.logger.Info("time-off request filed",
		zap.String("assignment_id", assignment.ID),
		zap.String("class_id", assignment.ClassID),
		zap.String("request_type", assignment.RequestType.String()),
	)
	return &assignment, nil
}

// CreateBulk files one request per class, in order, and stops at the first
// failure. Requests filed before the failure are returned with the error.
// Without a substitute and without a full day off the request is personal;
// a full day off with no classes selected covers all of the requester's
// classes.
func (s *TimeOffService) CreateBulk(ctx context.Context, requester Requester, req BulkTimeOffRequest) ([]models.Assignment, error) {
	if err := validateTimeOff(requester, req.Date, req.RequestType, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	classIDs := req.ClassIDs
	switch {
	case !req.SubRequired && !req.FullDayOff:
		classIDs = nil
	case req.FullDayOff && len(classIDs) == 0:
		docs, err := s.store.Query(ctx, models.ClassesCollection(requester.SchoolUID), docstore.Filters{"teacherUID": requester.UID})
		if err != nil {
			return nil, appErrors.Transport(err, "Failed to fetch classes")
		}
		for _, doc := range docs {
			classIDs = append(classIDs, doc.ID)
		}
	case len(classIDs) == 0:
		return nil, appErrors.Clone(appErrors.ErrValidation, "Please select at least one class.")
	}

	// the same file is uploaded once per request
	var content []byte
	if req.Attachment != nil && req.Attachment.Content != nil {
		var err error
		content, err = io.ReadAll(req.Attachment.Content)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "Failed to read attachment")
		}
	}

	single := func(classID string) CreateTimeOffRequest {
		out := CreateTimeOffRequest{
			Date:            req.Date,
			ClassID:         classID,
			AdditionalNotes: req.AdditionalNotes,
			RequestType:     req.RequestType,
			SubRequired:     req.SubRequired,
			FullDayOff:      req.FullDayOff,
			StartTime:       req.StartTime,
			EndTime:         req.EndTime,
		}
		if content != nil {
			out.Attachment = &Attachment{FileName: req.Attachment.FileName, Content: bytes.NewReader(content)}
		}
		return out
	}

	if len(classIDs) == 0 {
		created, err := s.create(ctx, requester, single(""))
		if err != nil {
			return nil, err
		}
		return []models.Assignment{*created}, nil
	}

	created := make([]models.Assignment, 0, len(classIDs))
	for _, classID := range classIDs {
		assignment, err := s.create(ctx, requester, single(classID))
		if err != nil {
			return created, err
		}
		created = append(created, *assignment)
	}
	return created, nil
}

func (s *TimeOffService) Get(ctx context.Context, id string) (*models.Assignment, error) {
	doc, err := s.store.Get(ctx, models.CollectionAssignments, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Time-off request not found")
	}
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to load time-off request")
	}
	assignment := models.AssignmentFromDocument(doc)
	return &assignment, nil
}

// ListForSchool returns the requests of a school with their class names.
// createdBy narrows the list to one requester when set.
func (s *TimeOffService) ListForSchool(ctx context.Context, schoolID, createdBy string) (*TimeOffList, error) {
	filters := docstore.Filters{"schoolUID": schoolID}
	if createdBy != "" {
		filters["createdBy"] = createdBy
	}
	docs, err := s.store.Query(ctx, models.CollectionAssignments, filters)
	if err != nil {
		return nil, appErrors.Transport(err, "Failed to fetch time-off requests")
	}
	requests := make([]models.Assignment, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, models.AssignmentFromDocument(doc))
	}
	names, err := s.ClassNames(ctx, schoolID, requests)
	if err != nil {
		return nil, err
	}
	return &TimeOffList{Requests: requests, ClassNames: names}, nil
}

// ClassNames resolves the class name of each class-linked request. Classes
// that no longer exist are left out.
func (s *TimeOffService) ClassNames(ctx context.Context, schoolID string, requests []models.Assignment) (map[string]string, error) {
	names := make(map[string]string)
	for _, request := range requests {
		if request.ClassID == "" {
			continue
		}
		if _, seen := names[request.ClassID]; seen {
			continue
		}
		doc, err := s.store.Get(ctx, models.ClassesCollection(schoolID), request.ClassID)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, appErrors.Transport(err, "Failed to fetch classes")
		}
		name := models.Fields(doc.Fields).String("className")
		if name == "" {
			name = "Unknown"
		}
		names[request.ClassID] = name
	}
	return names, nil
}

// Approve marks the substitute arrangement as approved by the requester.
func (s *TimeOffService) Approve(ctx context.Context, id string) (*models.Assignment, error) {
	return s.patch(ctx, id, map[string]any{"approved": true})
}

// AdminApprove and AdminReject record the administrator review.
func (s *TimeOffService) AdminApprove(ctx context.Context, id string) (*models.Assignment, error) {
	return s.patch(ctx, id, map[string]any{"adminApproved": true, "adminRejected": false})
}

func (s *TimeOffService) AdminReject(ctx context.Context, id string) (*models.Assignment, error) {
	return s.patch(ctx, id, map[string]any{"adminApproved": false, "adminRejected": true})
}

// Cancel withdraws a request without deleting it.
func (s *TimeOffService) Cancel(ctx context.Context, id, cancelledBy string) (*models.Assignment, error) {
	return s.patch(ctx, id, map[string]any{"cancelled": true, "cancelledBy": cancelledBy})
}

// Delete removes a request whatever its review state. It cannot be undone.
func (s *TimeOffService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, models.CollectionAssignments, id); err != nil {
		return appErrors.Transport(err, "Failed to delete time-off request")
	}
	s.logger.Info("time-off request deleted", zap.String("assignment_id", id))
	return nil
}

func (s *TimeOffService) patch(ctx context.Context, id string, fields map[string]any) (*models.Assignment, error) {
	if err := s.store.Update(ctx, models.CollectionAssignments, id, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Time-off request not found")
		}
		return nil, appErrors.Transport(err, "Failed to update time-off request")
	}
	return s.Get(ctx, id)
}

var timeOffExportHeaders = []string{"Date", "Class", "Type", "Status", "Full Day", "Sub Required", "Notes", "Requested By"}

// Export renders the requests of a school as CSV or PDF.
func (s *TimeOffService) Export(ctx context.Context, schoolID string, format export.Format) (*ExportFile, error) {
	list, err := s.ListForSchool(ctx, schoolID, "")
	if err != nil {
		return nil, err
	}

	data := export.Dataset{Headers: timeOffExportHeaders}
	for _, r := range list.Requests {
		class := "Personal"
		if r.ClassID != "" {
			class = list.ClassNames[r.ClassID]
			if class == "" {
				class = r.ClassID
			}
		}
		data.Rows = append(data.Rows, map[string]string{
			"Date":         r.Date.Format("2006-01-02"),
			"Class":        class,
			"Type":         r.RequestType.String(),
			"Status":       r.Status(),
			"Full Day":     yesNo(r.FullDayOff),
			"Sub Required": yesNo(r.SubRequired),
			"Notes":        r.AdditionalNotes,
			"Requested By": r.CreatedBy,
		})
	}

	var body []byte
	switch format {
	case export.FormatPDF:
		body, err = s.pdf.Render(data, "Time Off Requests")
	default:
		format = export.FormatCSV
		body, err = s.csv.Render(data)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	return &ExportFile{
		FileName:    fmt.Sprintf("time-off-%s.%s", schoolID, format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
