package app

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindmate/pkg/domain"
	"mindmate/pkg/queue"
	"mindmate/pkg/storage"
	"mindmate/pkg/store"
)

type fixture struct {
	store    *store.MemoryStore
	objects  *fakeObjects
	tasks    *queue.MemoryQueue
	subjects *SubjectRegistry
	docs     *DocumentRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	objects := newFakeObjects()
	tasks := queue.NewMemoryQueue()
	subjects := NewSubjectRegistry(st)
	blobs := storage.NewBlobStore(objects, storage.BlobConfig{URLTTL: 30 * time.Minute})
	return &fixture{
		store:    st,
		objects:  objects,
		tasks:    tasks,
		subjects: subjects,
		docs:     NewDocumentRegistry(st, subjects, blobs, tasks),
	}
}

func (f *fixture) subject(t *testing.T, name, owner string) domain.Subject {
	t.Helper()
	s, err := f.subjects.Create(context.Background(), CreateSubjectInput{Name: name}, owner)
	require.NoError(t, err)
	return s
}

func (f *fixture) textDoc(t *testing.T, subjectID, owner string) domain.Document {
	t.Helper()
	d, err := f.docs.Create(context.Background(), CreateDocumentInput{
		Title:     "Cell",
		Type:      domain.DocumentTypeText,
		Content:   "The cell is the basic unit of life.",
		SubjectID: subjectID,
	}, owner)
	require.NoError(t, err)
	return d
}

func pdfUpload(name string, data []byte) PDFUpload {
	return PDFUpload{
		File:        bytes.NewReader(data),
		Name:        name,
		Size:        int64(len(data)),
		ContentType: "application/pdf",
	}
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	biology := f.subject(t, "Biology", "user-a")

	created := f.textDoc(t, biology.ID, "user-a")
	got, err := f.docs.Get(ctx, created.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "Cell", got.Title)
	assert.Equal(t, domain.DocumentTypeText, got.Type)
	assert.Equal(t, created.Content, got.Content)
	assert.Equal(t, biology.ID, got.SubjectID)
	assert.Equal(t, "user-a", got.UserID)
	assert.Equal(t, domain.StatusNotProcessed, got.SummaryStatus)
	assert.Equal(t, domain.StatusNotProcessed, got.FlashcardStatus)
	assert.Equal(t, domain.StatusNotProcessed, got.MCQStatus)
}

func TestGetDistinguishesMissingFromForeign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	_, err := f.docs.Get(ctx, doc.ID, "user-b")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.docs.Get(ctx, "0123456789abcdef01234567", "user-a")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestCreateUnderForeignSubjectWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	biology := f.subject(t, "Biology", "user-a")

	_, err := f.docs.Create(ctx, CreateDocumentInput{
		Title:     "Stolen",
		Type:      domain.DocumentTypeText,
		Content:   "x",
		SubjectID: biology.ID,
	}, "user-b")
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	for _, owner := range []string{"user-a", "user-b"} {
		docs, err := f.store.ListDocumentsBySubject(ctx, biology.ID, owner)
		require.NoError(t, err)
		assert.Empty(t, docs)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	f := newFixture(t)
	subjectID := f.subject(t, "Biology", "user-a").ID
	cases := map[string]CreateDocumentInput{
		"missing title":     {Type: domain.DocumentTypeText, Content: "x", SubjectID: subjectID},
		"long title":        {Title: strings.Repeat("t", maxTitleLen+1), Type: domain.DocumentTypeText, Content: "x", SubjectID: subjectID},
		"text without body": {Title: "Cell", Type: domain.DocumentTypeText, SubjectID: subjectID},
		"unknown type":      {Title: "Cell", Type: "DOCX", Content: "x", SubjectID: subjectID},
		"malformed subject": {Title: "Cell", Type: domain.DocumentTypeText, Content: "x", SubjectID: "nope"},
	}
	for name, in := range cases {
		_, err := f.docs.Create(context.Background(), in, "user-a")
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}

	pdfDoc, err := f.docs.Create(context.Background(), CreateDocumentInput{
		Title:     "Slides",
		Type:      "pdf",
		SubjectID: subjectID,
	}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentTypePDF, pdfDoc.Type)
}

func TestUpdateDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	title := "  Cell structure "
	updated, err := f.docs.Update(ctx, doc.ID, DocumentPatch{Title: &title}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "Cell structure", updated.Title)
	assert.Equal(t, doc.Content, updated.Content)

	_, err = f.docs.Update(ctx, doc.ID, DocumentPatch{Title: &title}, "user-b")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.docs.Update(ctx, doc.ID, DocumentPatch{}, "user-a")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteSurvivesBlobFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")
	attached, err := f.docs.AttachPDF(ctx, doc.ID, pdfUpload("cell.pdf", minimalPDF(1)), "user-a")
	require.NoError(t, err)

	f.objects.failDelete = true
	require.NoError(t, f.docs.Delete(ctx, doc.ID, "user-a"))
	assert.Contains(t, f.objects.deleted, attached.FileKey)

	_, err = f.docs.Get(ctx, doc.ID, "user-a")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.ErrorIs(t, f.docs.Delete(ctx, doc.ID, "user-a"), ErrDocumentNotFound)
}

func TestDeleteForeignDocumentIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	assert.ErrorIs(t, f.docs.Delete(ctx, doc.ID, "user-b"), ErrForbidden)
	_, err := f.docs.Get(ctx, doc.ID, "user-a")
	assert.NoError(t, err)
}

func TestAttachPDFReplacesPreviousFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	first, err := f.docs.AttachPDF(ctx, doc.ID, pdfUpload("first.pdf", minimalPDF(1)), "user-a")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentTypePDF, first.Type)
	assert.True(t, strings.HasPrefix(first.FileKey, "documents/user-a/"))
	assert.Equal(t, "first.pdf", first.FileName)
	assert.Equal(t, doc.Content, first.Content)
	meta := f.objects.meta[first.FileKey]
	assert.Equal(t, "first.pdf", meta.Metadata["originalName"])
	assert.Equal(t, "user-a", meta.Metadata["uploadedBy"])

	f.objects.failDelete = true
	secondBody := minimalPDF(3)
	second, err := f.docs.AttachPDF(ctx, doc.ID, pdfUpload("second.pdf", secondBody), "user-a")
	require.NoError(t, err)
	assert.NotEqual(t, first.FileKey, second.FileKey)
	assert.NotEqual(t, first.FileURL, second.FileURL)
	assert.Equal(t, "second.pdf", second.FileName)
	assert.Equal(t, int64(len(secondBody)), second.FileSize)
	assert.Contains(t, f.objects.deleted, first.FileKey)
	assert.True(t, f.objects.has(second.FileKey))

	stored, err := f.docs.Get(ctx, doc.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, second.FileKey, stored.FileKey)
}

func TestAttachPDFRecordsPageCount(t *testing.T) {
	f := newFixture(t)
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	attached, err := f.docs.AttachPDF(context.Background(), doc.ID, pdfUpload("cell.pdf", minimalPDF(2)), "user-a")
	require.NoError(t, err)
	assert.Equal(t, 2, attached.PageCount)

	garbage, err := f.docs.AttachPDF(context.Background(), doc.ID, pdfUpload("junk.pdf", []byte("%PDF-1.4 not really")), "user-a")
	require.NoError(t, err)
	assert.Zero(t, garbage.PageCount)
}

func TestAttachPDFUploadFailureLeavesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	f.objects.failPut = true
	_, err := f.docs.AttachPDF(ctx, doc.ID, pdfUpload("cell.pdf", minimalPDF(1)), "user-a")
	assert.ErrorIs(t, err, errBackendDown)

	stored, err := f.docs.Get(ctx, doc.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentTypeText, stored.Type)
	assert.False(t, stored.HasFile())
}

func TestAttachPDFRejectsBadUploads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	big := pdfUpload("big.pdf", []byte("%PDF"))
	big.Size = 60 << 20
	_, err := f.docs.AttachPDF(ctx, doc.ID, big, "user-a")
	assert.ErrorIs(t, err, ErrInvalidInput)

	docx := pdfUpload("notes.docx", []byte("PK\x03\x04"))
	docx.ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	_, err = f.docs.AttachPDF(ctx, doc.ID, docx, "user-a")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.docs.AttachPDF(ctx, doc.ID, pdfUpload("cell.pdf", minimalPDF(1)), "user-b")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, f.objects.objects)
}

func TestRequestProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	_, err := f.docs.RequestProcessing(ctx, doc.ID, "user-a")
	assert.ErrorIs(t, err, ErrNoFileAttached)

	attached, err := f.docs.AttachPDF(ctx, doc.ID, pdfUpload("cell.pdf", minimalPDF(1)), "user-a")
	require.NoError(t, err)

	returned, err := f.docs.RequestProcessing(ctx, doc.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, attached, returned)
	assert.Equal(t, domain.StatusNotProcessed, returned.SummaryStatus)

	length, err := f.tasks.Length(ctx, domain.ProcessPDFQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
	raw, ok, err := f.tasks.Peek(ctx, domain.ProcessPDFQueue)
	require.NoError(t, err)
	require.True(t, ok)
	var task domain.Task
	require.NoError(t, json.Unmarshal(raw, &task))
	assert.Equal(t, domain.Task{DocumentID: doc.ID, UserID: "user-a"}, task)

	_, err = f.docs.RequestProcessing(ctx, doc.ID, "user-b")
	assert.ErrorIs(t, err, ErrForbidden)

	f.tasks.FailWith(errBackendDown)
	_, err = f.docs.RequestProcessing(ctx, doc.ID, "user-a")
	assert.ErrorIs(t, err, errBackendDown)
}

func TestApplyProcessingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	_, err := f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: domain.KindSummary, Status: domain.StatusProcessing})
	require.NoError(t, err)

	done := domain.ProcessingUpdate{Kind: domain.KindSummary, Status: domain.StatusCompleted, Result: "cells are small"}
	first, err := f.docs.ApplyProcessing(ctx, doc.ID, done)
	require.NoError(t, err)
	second, err := f.docs.ApplyProcessing(ctx, doc.ID, done)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, domain.StatusCompleted, second.SummaryStatus)
	assert.Equal(t, "cells are small", second.Summary)

	stale, err := f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: domain.KindSummary, Status: domain.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stale.SummaryStatus)
	assert.Equal(t, "cells are small", stale.Summary)

	cards, err := f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: "flashcard", Status: domain.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, cards.FlashcardStatus)
	assert.Equal(t, domain.StatusNotProcessed, cards.MCQStatus)
}

func TestApplyProcessingRedeliveredCompletionKeepsSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	_, err := f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: domain.KindSummary, Status: domain.StatusCompleted, Result: "cells are small"})
	require.NoError(t, err)
	redelivered, err := f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: domain.KindSummary, Status: domain.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, redelivered.SummaryStatus)
	assert.Equal(t, "cells are small", redelivered.Summary)

	stored, err := f.docs.Get(ctx, doc.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "cells are small", stored.Summary)
}

func TestAttachPDFResetsProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	_, err := f.docs.AttachPDF(ctx, doc.ID, pdfUpload("first.pdf", minimalPDF(1)), "user-a")
	require.NoError(t, err)
	for _, kind := range []domain.ProcessingKind{domain.KindSummary, domain.KindFlashcards, domain.KindMCQs} {
		_, err := f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: kind, Status: domain.StatusCompleted, Result: "from first.pdf"})
		require.NoError(t, err)
	}

	second, err := f.docs.AttachPDF(ctx, doc.ID, pdfUpload("second.pdf", minimalPDF(2)), "user-a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotProcessed, second.SummaryStatus)
	assert.Equal(t, domain.StatusNotProcessed, second.FlashcardStatus)
	assert.Equal(t, domain.StatusNotProcessed, second.MCQStatus)
	assert.Empty(t, second.Summary)
	assert.Empty(t, second.Flashcards)
	assert.Empty(t, second.MCQs)

	_, err = f.docs.RequestProcessing(ctx, doc.ID, "user-a")
	require.NoError(t, err)
	failed, err := f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: domain.KindSummary, Status: domain.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.SummaryStatus, "a failure for the new file is recorded")
	assert.Empty(t, failed.Summary)
}

func TestApplyProcessingRejectsBadReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	_, err := f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: domain.KindSummary, Status: "DONE"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.docs.ApplyProcessing(ctx, doc.ID, domain.ProcessingUpdate{Kind: "quiz", Status: domain.StatusCompleted})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.docs.ApplyProcessing(ctx, "0123456789abcdef01234567", domain.ProcessingUpdate{Kind: domain.KindSummary, Status: domain.StatusCompleted})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestFileURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.textDoc(t, f.subject(t, "Biology", "user-a").ID, "user-a")

	_, _, err := f.docs.FileURL(ctx, doc.ID, "user-a")
	assert.ErrorIs(t, err, ErrNoFileAttached)

	attached, err := f.docs.AttachPDF(ctx, doc.ID, pdfUpload("cell.pdf", minimalPDF(1)), "user-a")
	require.NoError(t, err)
	url, ttl, err := f.docs.FileURL(ctx, doc.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, ttl)
	assert.Contains(t, url, attached.FileKey)
}

func TestListBySubjectScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	biology := f.subject(t, "Biology", "user-a")
	f.textDoc(t, biology.ID, "user-a")

	docs, err := f.docs.ListBySubject(ctx, biology.ID, "user-a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Cell", docs[0].Title)

	_, err = f.docs.ListBySubject(ctx, biology.ID, "user-b")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestSubjectDeleteKeepsDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	biology := f.subject(t, "Biology", "user-a")
	doc := f.textDoc(t, biology.ID, "user-a")

	require.NoError(t, f.subjects.Delete(ctx, biology.ID, "user-a"))
	got, err := f.docs.Get(ctx, doc.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, biology.ID, got.SubjectID)

	_, err = f.docs.ListBySubject(ctx, biology.ID, "user-a")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}
