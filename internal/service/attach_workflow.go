package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

// WorkflowStep names one stage of the create-then-attach chain.
type WorkflowStep string

const (
	StepCreateRecord   WorkflowStep = "create_record"
	StepUpload         WorkflowStep = "upload"
	StepDownloadURL    WorkflowStep = "download_url"
	StepLinkAttachment WorkflowStep = "link_attachment"
)

// afterRecordWrite reports whether a failure at this step leaves an orphan.
func (s WorkflowStep) afterRecordWrite() bool {
	switch s {
	case StepUpload, StepDownloadURL, StepLinkAttachment:
		return true
	}
	return false
}

type recordWriter interface {
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, patch map[string]any) error
}

type blobWriter interface {
	PutFile(ctx context.Context, objectPath string, r io.Reader) error
	DownloadURL(ctx context.Context, objectPath string) (string, error)
}

// Attachment is a file selected by the user.
type Attachment struct {
	FileName string
	Content  io.Reader
}

// AttachRequest describes one run. Callers validate fields before Run.
type AttachRequest struct {
	// Entity labels metrics and messages, e.g. "class".
	Entity     string
	Collection string
	Fields     map[string]any
	Attachment *Attachment
	// ObjectPath derives the blob path from the new record id.
	ObjectPath func(recordID string) string
	// AttachmentField is patched with AttachmentValue(url), or the bare url.
	AttachmentField string
	AttachmentValue func(url string) any
}

// AttachResult is returned on success.
type AttachResult struct {
	RecordID      string `json:"id"`
	ObjectPath    string `json:"objectPath,omitempty"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
}

// WorkflowError reports the first failing step. Steps after the record write
// leave the record or the uploaded file behind; nothing is rolled back.
type WorkflowError struct {
	Step       WorkflowStep
	RecordID   string
	ObjectPath string
	Err        *appErrors.Error
}

func (e *WorkflowError) Error() string { return e.Err.Error() }

func (e *WorkflowError) Unwrap() error { return e.Err }

// Partial reports whether remote state was left inconsistent.
func (e *WorkflowError) Partial() bool { return e.Step.afterRecordWrite() }

// PartialMeta is rendered into the response envelope.
func (e *WorkflowError) PartialMeta() map[string]interface{} {
	meta := map[string]interface{}{"step": string(e.Step)}
	if e.RecordID != "" {
		meta["recordId"] = e.RecordID
	}
	if e.ObjectPath != "" {
		meta["objectPath"] = e.ObjectPath
	}
	return meta
}

// OrphanKind tells what a partial failure left behind.
type OrphanKind string

const (
	OrphanRecord OrphanKind = "record"
	OrphanFile   OrphanKind = "file"
)

// Orphan is remote state left behind by a partial failure.
type Orphan struct {
	Kind            OrphanKind   `json:"kind"`
	Entity          string       `json:"entity"`
	Collection      string       `json:"collection"`
	RecordID        string       `json:"recordId"`
	ObjectPath      string       `json:"objectPath,omitempty"`
	AttachmentField string       `json:"attachmentField"`
	Step            WorkflowStep `json:"step"`
	DetectedAt      time.Time    `json:"detectedAt"`
}

// OrphanReporter receives orphans as they are detected.
type OrphanReporter interface {
	ReportOrphan(ctx context.Context, orphan Orphan)
}

type logOrphanReporter struct {
	logger *zap.Logger
}

// NewLogOrphanReporter only logs orphans.
func NewLogOrphanReporter(logger *zap.Logger) OrphanReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logOrphanReporter{logger: logger}
}

func (r *logOrphanReporter) ReportOrphan(_ context.Context, o Orphan) {
	r.logger.Warn("orphan left by partial workflow",
		zap.String("kind", string(o.Kind)),
		zap.String("entity", o.Entity),
		zap.String("collection", o.Collection),
		zap.String("record_id", o.RecordID),
		zap.String("object_path", o.ObjectPath),
		zap.String("step", string(o.Step)),
	)
}

// AttachWorkflow creates a record and then, when a file was selected, uploads
// it, resolves its durable URL and links the URL on the record. The record is
// never patched before the upload and URL lookup have both succeeded.
type AttachWorkflow struct {
	records recordWriter
	blobs   blobWriter
	orphans OrphanReporter
	metrics *MetricsService
	logger  *zap.Logger
	clock   func() time.Time
}

// NewAttachWorkflow wires the workflow. A nil reporter logs orphans.
func NewAttachWorkflow(records recordWriter, blobs blobWriter, orphans OrphanReporter, metrics *MetricsService, logger *zap.Logger) *AttachWorkflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if orphans == nil {
		orphans = NewLogOrphanReporter(logger)
	}
	return &AttachWorkflow{
		records: records,
		blobs:   blobs,
		orphans: orphans,
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
	}
}

// Run executes the chain. The context bounds individual calls only; once the
// record is written the remaining steps still run to completion or failure.
func (w *AttachWorkflow) Run(ctx context.Context, req AttachRequest) (AttachResult, error) {
	ctx = context.WithoutCancel(ctx)

	id, err := w.records.Add(ctx, req.Collection, req.Fields)
	w.metrics.RecordWorkflowStep(req.Entity, StepCreateRecord, err)
	if err != nil {
		return AttachResult{}, w.fail(ctx, req, StepCreateRecord, "", "", err)
	}
	result := AttachResult{RecordID: id}

	if req.Attachment == nil || req.Attachment.Content == nil {
		return result, nil
	}

	objectPath := req.ObjectPath(id)
	result.ObjectPath = objectPath

	err = w.blobs.PutFile(ctx, objectPath, req.Attachment.Content)
	w.metrics.RecordWorkflowStep(req.Entity, StepUpload, err)
	if err != nil {
		return result, w.fail(ctx, req, StepUpload, id, objectPath, err)
	}

	url, err := w.blobs.DownloadURL(ctx, objectPath)
	w.metrics.RecordWorkflowStep(req.Entity, StepDownloadURL, err)
	if err != nil {
		return result, w.fail(ctx, req, StepDownloadURL, id, objectPath, err)
	}

	var value any = url
	if req.AttachmentValue != nil {
		value = req.AttachmentValue(url)
	}
	err = w.records.Update(ctx, req.Collection, id, map[string]any{req.AttachmentField: value})
	w.metrics.RecordWorkflowStep(req.Entity, StepLinkAttachment, err)
	if err != nil {
		return result, w.fail(ctx, req, StepLinkAttachment, id, objectPath, err)
	}

	result.AttachmentURL = url
	return result, nil
}

func (w *AttachWorkflow) fail(ctx context.Context, req AttachRequest, step WorkflowStep, recordID, objectPath string, cause error) error {
	var appErr *appErrors.Error
	switch step {
	case StepCreateRecord:
		appErr = appErrors.Transport(cause, fmt.Sprintf("Failed to save %s", req.Entity))
	case StepUpload:
		appErr = partialError(cause, "Failed to upload file")
	case StepDownloadURL:
		appErr = partialError(cause, "Failed to get download URL")
	default:
		appErr = partialError(cause, fmt.Sprintf("Failed to update %s data", req.Entity))
	}

	werr := &WorkflowError{Step: step, RecordID: recordID, ObjectPath: objectPath, Err: appErr}
	if !step.afterRecordWrite() {
		return werr
	}

	w.logger.Warn("create workflow partially failed",
		zap.String("entity", req.Entity),
		zap.String("step", string(step)),
		zap.String("record_id", recordID),
		zap.String("object_path", objectPath),
		zap.Error(cause),
	)

	// A failed upload leaves a record with no attachment; later failures leave
	// a stored file nothing references.
	orphan := Orphan{
		Kind:            OrphanFile,
		Entity:          req.Entity,
		Collection:      req.Collection,
		RecordID:        recordID,
		ObjectPath:      objectPath,
		AttachmentField: req.AttachmentField,
		Step:            step,
		DetectedAt:      w.clock().UTC(),
	}
	if step == StepUpload {
		orphan.Kind = OrphanRecord
	}
	w.orphans.ReportOrphan(ctx, orphan)

	return werr
}

func partialError(cause error, message string) *appErrors.Error {
	return appErrors.Wrap(cause, appErrors.ErrPartialWorkflow.Code, http.StatusBadGateway, message)
}
