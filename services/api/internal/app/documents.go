package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ledongthuc/pdf"

	"mindmate/internal/util"
	"mindmate/pkg/domain"
	"mindmate/pkg/queue"
	"mindmate/pkg/storage"
	"mindmate/pkg/store"
)

// BlobStore is the slice of storage.BlobStore the document registry needs.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader, size int64, contentType, ownerID, originalName string) (storage.Blob, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	SignedURLTTL() time.Duration
	Delete(ctx context.Context, key string) error
}

// DocumentRegistry manages the document lifecycle. Every operation re-checks
// ownership against the stored row and every write is scoped by (id, owner).
type DocumentRegistry struct {
	store    store.Store
	subjects *SubjectRegistry
	blobs    BlobStore
	tasks    queue.TaskQueue
	now      func() time.Time
}

func NewDocumentRegistry(st store.Store, subjects *SubjectRegistry, blobs BlobStore, tasks queue.TaskQueue) *DocumentRegistry {
	return &DocumentRegistry{
		store:    st,
		subjects: subjects,
		blobs:    blobs,
		tasks:    tasks,
		now:      time.Now,
	}
}

// Create files a new document under one of the owner's subjects.
func (r *DocumentRegistry) Create(ctx context.Context, in CreateDocumentInput, ownerID string) (domain.Document, error) {
	in, err := in.Validate()
	if err != nil {
		return domain.Document{}, err
	}
	if _, err := r.subjects.GetOwned(ctx, in.SubjectID, ownerID); err != nil {
		return domain.Document{}, err
	}
	now := r.now().UTC()
	doc := domain.Document{
		ID:              util.NewID(),
		Title:           in.Title,
		Type:            in.Type,
		Content:         in.Content,
		UserID:          ownerID,
		SubjectID:       in.SubjectID,
		SummaryStatus:   domain.StatusNotProcessed,
		FlashcardStatus: domain.StatusNotProcessed,
		MCQStatus:       domain.StatusNotProcessed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.SaveDocument(ctx, doc); err != nil {
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	return doc, nil
}

// Get loads a document. A missing id is ErrDocumentNotFound and a document
// owned by someone else is ErrForbidden, in that order.
func (r *DocumentRegistry) Get(ctx context.Context, id, ownerID string) (domain.Document, error) {
	doc, ok, err := r.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("fetch document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	if doc.UserID != ownerID {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}

// Update applies the fields set in patch and returns the stored result.
func (r *DocumentRegistry) Update(ctx context.Context, id string, patch DocumentPatch, ownerID string) (domain.Document, error) {
	patch, err := patch.Validate()
	if err != nil {
		return domain.Document{}, err
	}
	if _, err := r.Get(ctx, id, ownerID); err != nil {
		return domain.Document{}, err
	}
	return r.updateOwned(ctx, id, ownerID, store.DocumentChanges{
		Title:    patch.Title,
		Content:  patch.Content,
		FileName: patch.FileName,
	})
}

// Delete removes the document. The attached blob is deleted first on a best-effort basis.
func (r *DocumentRegistry) Delete(ctx context.Context, id, ownerID string) error {
	doc, err := r.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if doc.Type == domain.DocumentTypePDF && doc.HasFile() {
		r.discardBlob(ctx, doc.ID, doc.FileKey)
	}
	deleted, err := r.store.DeleteDocumentOwned(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if !deleted {
		return ErrDocumentNotFound
	}
	return nil
}

// ListBySubject returns the owner's documents under subjectID, newest first.
func (r *DocumentRegistry) ListBySubject(ctx context.Context, subjectID, ownerID string) ([]domain.Document, error) {
	if _, err := r.subjects.GetOwned(ctx, subjectID, ownerID); err != nil {
		return nil, err
	}
	docs, err := r.store.ListDocumentsBySubject(ctx, subjectID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// AttachPDF uploads file and points the document at it, switching its type to PDF.
// Existing text content is kept. Processing results describe the previous file, so
// every kind goes back to NOT_PROCESSED in the same write. A previously attached blob
// is deleted on a best-effort basis once the document references the new one.
func (r *DocumentRegistry) AttachPDF(ctx context.Context, id string, file PDFUpload, ownerID string) (domain.Document, error) {
	file, err := file.Validate()
	if err != nil {
		return domain.Document{}, err
	}
	doc, err := r.Get(ctx, id, ownerID)
	if err != nil {
		return domain.Document{}, err
	}
	blob, err := r.blobs.Put(ctx, io.NewSectionReader(file.File, 0, file.Size), file.Size, file.ContentType, ownerID, file.Name)
	if err != nil {
		return domain.Document{}, fmt.Errorf("upload file: %w", err)
	}
	pdfType := domain.DocumentTypePDF
	pages := countPages(file.File, file.Size)
	changes := store.DocumentChanges{
		Type:      &pdfType,
		FileURL:   &blob.URL,
		FileKey:   &blob.Key,
		FileName:  &file.Name,
		FileSize:  &file.Size,
		PageCount: &pages,
	}
	changes.ResetProcessing()
	updated, err := r.updateOwned(ctx, id, ownerID, changes)
	if err != nil {
		r.discardBlob(ctx, id, blob.Key)
		return domain.Document{}, err
	}
	if doc.HasFile() && doc.FileKey != blob.Key {
		r.discardBlob(ctx, id, doc.FileKey)
	}
	return updated, nil
}

// RequestProcessing queues the document for the PDF worker and returns it unchanged.
func (r *DocumentRegistry) RequestProcessing(ctx context.Context, id, ownerID string) (domain.Document, error) {
	doc, err := r.Get(ctx, id, ownerID)
	if err != nil {
		return domain.Document{}, err
	}
	if !doc.HasFile() {
		return domain.Document{}, ErrNoFileAttached
	}
	position, err := r.tasks.Enqueue(ctx, domain.ProcessPDFQueue, domain.Task{DocumentID: doc.ID, UserID: ownerID})
	if err != nil {
		return domain.Document{}, fmt.Errorf("enqueue processing: %w", err)
	}
	util.LoggerFromContext(ctx).Info("processing requested",
		"document_id", doc.ID,
		"queue", domain.ProcessPDFQueue,
		"position", position,
	)
	return doc, nil
}

// FileURL returns a time-limited link to the attached file.
func (r *DocumentRegistry) FileURL(ctx context.Context, id, ownerID string) (string, time.Duration, error) {
	doc, err := r.Get(ctx, id, ownerID)
	if err != nil {
		return "", 0, err
	}
	if !doc.HasFile() {
		return "", 0, ErrNoFileAttached
	}
	ttl := r.blobs.SignedURLTTL()
	url, err := r.blobs.SignedURL(ctx, doc.FileKey, ttl)
	if err != nil {
		return "", 0, fmt.Errorf("sign file url: %w", err)
	}
	return url, ttl, nil
}

// ApplyProcessing records a worker report. Replaying a report is a no-op and a
// report that would move a finished result backwards is ignored.
func (r *DocumentRegistry) ApplyProcessing(ctx context.Context, id string, update domain.ProcessingUpdate) (domain.Document, error) {
	if !update.Status.Valid() {
		return domain.Document{}, invalid("status must be one of NOT_PROCESSED, PROCESSING, COMPLETED, FAILED")
	}
	kind, err := domain.ParseProcessingKind(string(update.Kind))
	if err != nil {
		return domain.Document{}, invalid("%s", err.Error())
	}
	update.Kind = kind
	doc, changed, err := r.store.ApplyProcessing(ctx, id, update)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("apply processing: %w", err)
	}
	util.LoggerFromContext(ctx).Info("processing reported",
		"document_id", id,
		"kind", update.Kind,
		"status", update.Status,
		"changed", changed,
	)
	return doc, nil
}

func (r *DocumentRegistry) updateOwned(ctx context.Context, id, ownerID string, changes store.DocumentChanges) (domain.Document, error) {
	doc, ok, err := r.store.UpdateDocumentOwned(ctx, id, ownerID, changes)
	if err != nil {
		return domain.Document{}, fmt.Errorf("update document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (r *DocumentRegistry) discardBlob(ctx context.Context, documentID, key string) {
	if err := r.blobs.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("blob delete failed",
			"document_id", documentID,
			"key", key,
			"err", err,
		)
	}
}

// countPages returns 0 for anything the parser rejects, including inputs that make it panic.
func countPages(r io.ReaderAt, size int64) (pages int) {
	defer func() {
		if recover() != nil {
			pages = 0
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return 0
	}
	return reader.NumPage()
}
