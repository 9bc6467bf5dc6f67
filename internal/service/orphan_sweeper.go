package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/pkg/jobs"
)

// JobTypeOrphanSweep identifies orphan reconciliation jobs.
const JobTypeOrphanSweep = "orphan_sweep"

type orphanBlobs interface {
	Delete(ctx context.Context, objectPath string) error
	ObjectPathFromURL(raw string) (string, bool)
}

type jobEnqueuer interface {
	TryEnqueue(job jobs.Job) error
}

type queueOrphanReporter struct {
	queue  jobEnqueuer
	logger *zap.Logger
}

// NewQueueOrphanReporter hands orphans to the sweep queue. A full or stopped
// queue only drops the report; the orphan stays logged.
func NewQueueOrphanReporter(queue jobEnqueuer, logger *zap.Logger) OrphanReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &queueOrphanReporter{queue: queue, logger: logger}
}

func (r *queueOrphanReporter) ReportOrphan(ctx context.Context, o Orphan) {
	NewLogOrphanReporter(r.logger).ReportOrphan(ctx, o)
	job := jobs.Job{ID: uuid.NewString(), Type: JobTypeOrphanSweep, Payload: o}
	if err := r.queue.TryEnqueue(job); err != nil {
		r.logger.Warn("orphan sweep not scheduled", zap.String("record_id", o.RecordID), zap.Error(err))
	}
}

// OrphanSweeper removes uploaded files that no record references.
type OrphanSweeper struct {
	records documentReader
	blobs   orphanBlobs
	logger  *zap.Logger
}

func NewOrphanSweeper(records documentReader, blobs orphanBlobs, logger *zap.Logger) *OrphanSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrphanSweeper{records: records, blobs: blobs, logger: logger}
}

// Handle is the jobs.Handler of the sweep queue. Returning an error retries
// the job.
func (s *OrphanSweeper) Handle(ctx context.Context, job jobs.Job) error {
	orphan, ok := job.Payload.(Orphan)
	if !ok {
		return fmt.Errorf("orphan sweep: unexpected payload %T", job.Payload)
	}
	_, err := s.Sweep(ctx, orphan)
	return err
}

// Sweep reconciles one orphan and reports whether a file was deleted.
// Records are never deleted; a record without its attachment is still valid.
func (s *OrphanSweeper) Sweep(ctx context.Context, o Orphan) (bool, error) {
	if o.Kind != OrphanFile || o.ObjectPath == "" {
		s.logger.Info("orphan record kept", zap.String("collection", o.Collection), zap.String("record_id", o.RecordID))
		return false, nil
	}

	referenced := false
	doc, err := s.records.Get(ctx, o.Collection, o.RecordID)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load %s/%s: %w", o.Collection, o.RecordID, err)
	default:
		referenced = s.references(doc, o.AttachmentField, o.ObjectPath)
	}
	if referenced {
		s.logger.Info("orphan file is linked, keeping", zap.String("object_path", o.ObjectPath))
		return false, nil
	}

	if err := s.blobs.Delete(ctx, o.ObjectPath); err != nil {
		return false, fmt.Errorf("delete %s: %w", o.ObjectPath, err)
	}
	s.logger.Info("orphan file deleted", zap.String("object_path", o.ObjectPath), zap.String("record_id", o.RecordID))
	return true, nil
}

func (s *OrphanSweeper) references(doc docstore.Document, field, objectPath string) bool {
	for _, url := range models.Fields(doc.Fields).StringSlice(field) {
		if p, ok := s.blobs.ObjectPathFromURL(url); ok && p == objectPath {
			return true
		}
	}
	return false
}
