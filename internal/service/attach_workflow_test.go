package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type callLog struct {
	calls []string
}

func (l *callLog) add(call string) { l.calls = append(l.calls, call) }

type recordWriterStub struct {
	log       *callLog
	id        string
	addErr    error
	updateErr error
	added     map[string]any
	patches   []map[string]any
}

func (s *recordWriterStub) Add(_ context.Context, collection string, fields map[string]any) (string, error) {
	s.log.add("add:" + collection)
	s.added = fields
	if s.addErr != nil {
		return "", s.addErr
	}
	return s.id, nil
}

func (s *recordWriterStub) Update(_ context.Context, collection, id string, patch map[string]any) error {
	s.log.add("update:" + collection + "/" + id)
	s.patches = append(s.patches, patch)
	return s.updateErr
}

type blobWriterStub struct {
	log     *callLog
	putErr  error
	urlErr  error
	written map[string]string
}

func (s *blobWriterStub) PutFile(_ context.Context, objectPath string, r io.Reader) error {
	s.log.add("put:" + objectPath)
	if s.putErr != nil {
		return s.putErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.written == nil {
		s.written = map[string]string{}
	}
	s.written[objectPath] = string(body)
	return nil
}

func (s *blobWriterStub) DownloadURL(_ context.Context, objectPath string) (string, error) {
	s.log.add("url:" + objectPath)
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return "https://files.test/" + objectPath, nil
}

type orphanRecorder struct {
	orphans []Orphan
}

func (r *orphanRecorder) ReportOrphan(_ context.Context, o Orphan) {
	r.orphans = append(r.orphans, o)
}

func newWorkflowFixture() (*AttachWorkflow, *callLog, *recordWriterStub, *blobWriterStub, *orphanRecorder) {
	log := &callLog{}
	records := &recordWriterStub{log: log, id: "rec-1"}
	blobs := &blobWriterStub{log: log}
	orphans := &orphanRecorder{}
	return NewAttachWorkflow(records, blobs, orphans, nil, nil), log, records, blobs, orphans
}

func rosterRequest(withFile bool) AttachRequest {
	req := AttachRequest{
		Entity:          "class",
		Collection:      "Schools/s1/Classes",
		Fields:          map[string]any{"className": "Math"},
		ObjectPath:      func(id string) string { return "Schools/s1/Classes/" + id + "/Attachments/roster.pdf" },
		AttachmentField: "classRosterURL",
	}
	if withFile {
		req.Attachment = &Attachment{FileName: "roster.pdf", Content: strings.NewReader("pdf")}
	}
	return req
}

func TestAttachWorkflowWithoutFileWritesOnce(t *testing.T) {
	wf, log, records, _, orphans := newWorkflowFixture()

	result, err := wf.Run(context.Background(), rosterRequest(false))
	require.NoError(t, err)
	assert.Equal(t, "rec-1", result.RecordID)
	assert.Equal(t, []string{"add:Schools/s1/Classes"}, log.calls)
	assert.Empty(t, records.patches)
	assert.Empty(t, orphans.orphans)
}

func TestAttachWorkflowPatchesAfterUploadAndURL(t *testing.T) {
	wf, log, records, blobs, _ := newWorkflowFixture()

	result, err := wf.Run(context.Background(), rosterRequest(true))
	require.NoError(t, err)

	objectPath := "Schools/s1/Classes/rec-1/Attachments/roster.pdf"
	assert.Equal(t, []string{
		"add:Schools/s1/Classes",
		"put:" + objectPath,
		"url:" + objectPath,
		"update:Schools/s1/Classes/rec-1",
	}, log.calls)
	assert.Equal(t, "pdf", blobs.written[objectPath])
	require.Len(t, records.patches, 1)
	assert.Equal(t, "https://files.test/"+objectPath, records.patches[0]["classRosterURL"])
	assert.NotContains(t, records.added, "classRosterURL")
	assert.Equal(t, "https://files.test/"+objectPath, result.AttachmentURL)
}

func TestAttachWorkflowAttachmentValueWrapsURL(t *testing.T) {
	wf, _, records, _, _ := newWorkflowFixture()
	req := rosterRequest(true)
	req.AttachmentField = "attachments"
	req.AttachmentValue = func(url string) any { return []string{url} }

	_, err := wf.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, records.patches, 1)
	assert.Equal(t, []string{"https://files.test/Schools/s1/Classes/rec-1/Attachments/roster.pdf"}, records.patches[0]["attachments"])
}

func TestAttachWorkflowRecordWriteFailure(t *testing.T) {
	wf, log, records, _, orphans := newWorkflowFixture()
	records.addErr = errors.New("permission denied")

	_, err := wf.Run(context.Background(), rosterRequest(true))
	require.Error(t, err)

	var werr *WorkflowError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, StepCreateRecord, werr.Step)
	assert.False(t, werr.Partial())
	assert.ErrorIs(t, err, appErrors.ErrTransport)
	assert.Equal(t, "Failed to save class: permission denied", err.Error())
	assert.Equal(t, []string{"add:Schools/s1/Classes"}, log.calls)
	assert.Empty(t, orphans.orphans)
}

func TestAttachWorkflowUploadFailureLeavesOrphanRecord(t *testing.T) {
	wf, log, records, blobs, orphans := newWorkflowFixture()
	blobs.putErr = errors.New("disk full")

	result, err := wf.Run(context.Background(), rosterRequest(true))
	require.Error(t, err)
	assert.Equal(t, "rec-1", result.RecordID)
	assert.Equal(t, "Failed to upload file: disk full", err.Error())
	assert.ErrorIs(t, err, appErrors.ErrPartialWorkflow)
	assert.Empty(t, records.patches)
	assert.Len(t, log.calls, 2)

	require.Len(t, orphans.orphans, 1)
	assert.Equal(t, OrphanRecord, orphans.orphans[0].Kind)
	assert.Equal(t, "rec-1", orphans.orphans[0].RecordID)
}

func TestAttachWorkflowURLFailureLeavesOrphanFile(t *testing.T) {
	wf, _, records, blobs, orphans := newWorkflowFixture()
	blobs.urlErr = errors.New("timeout")

	_, err := wf.Run(context.Background(), rosterRequest(true))
	require.Error(t, err)

	var werr *WorkflowError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, StepDownloadURL, werr.Step)
	assert.Equal(t, map[string]interface{}{
		"step":       "download_url",
		"recordId":   "rec-1",
		"objectPath": "Schools/s1/Classes/rec-1/Attachments/roster.pdf",
	}, werr.PartialMeta())
	assert.Empty(t, records.patches)
	require.Len(t, orphans.orphans, 1)
	assert.Equal(t, OrphanFile, orphans.orphans[0].Kind)
}

func TestAttachWorkflowPatchFailure(t *testing.T) {
	wf, _, records, _, orphans := newWorkflowFixture()
	records.updateErr = errors.New("unavailable")

	_, err := wf.Run(context.Background(), rosterRequest(true))
	require.Error(t, err)
	assert.Equal(t, "Failed to update class data: unavailable", err.Error())
	require.Len(t, orphans.orphans, 1)
	assert.Equal(t, StepLinkAttachment, orphans.orphans[0].Step)
	assert.Equal(t, "classRosterURL", orphans.orphans[0].AttachmentField)
}

func TestAttachWorkflowIgnoresCallerCancellation(t *testing.T) {
	wf, log, _, _, _ := newWorkflowFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wf.Run(ctx, rosterRequest(true))
	require.NoError(t, err)
	assert.Len(t, log.calls, 4)
}
