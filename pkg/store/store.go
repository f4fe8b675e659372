package store

import (
	"context"
	"errors"

	"mindmate/pkg/domain"
)

var (
	// ErrNotFound is returned by writes addressed to a row that does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write keeps losing to concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrDuplicateEmail is returned when a user is saved with an email another user holds.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store defines persistence operations for users, subjects, and documents.
// Every write that names an owner is applied with a compound (id, owner) predicate.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)

	// subjects
	SaveSubject(ctx context.Context, s domain.Subject) error
	ListSubjectsByOwner(ctx context.Context, ownerID string) ([]domain.Subject, error)
	GetSubjectOwned(ctx context.Context, id, ownerID string) (domain.Subject, bool, error)
	DeleteSubjectOwned(ctx context.Context, id, ownerID string) (bool, error)

	// documents
	SaveDocument(ctx context.Context, d domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	ListDocumentsBySubject(ctx context.Context, subjectID, ownerID string) ([]domain.Document, error)
	UpdateDocumentOwned(ctx context.Context, id, ownerID string, changes DocumentChanges) (domain.Document, bool, error)
	DeleteDocumentOwned(ctx context.Context, id, ownerID string) (bool, error)
	ApplyProcessing(ctx context.Context, id string, update domain.ProcessingUpdate) (domain.Document, bool, error)

	// Ping checks that the backing database answers.
	Ping(ctx context.Context) error
}

// DocumentChanges is a partial document update; nil fields are left untouched.
type DocumentChanges struct {
	Title     *string
	Content   *string
	Type      *domain.DocumentType
	FileURL   *string
	FileKey   *string
	FileName  *string
	FileSize  *int64
	PageCount *int

	SummaryStatus   *domain.ProcessingStatus
	FlashcardStatus *domain.ProcessingStatus
	MCQStatus       *domain.ProcessingStatus
	Summary         *string
	Flashcards      *string
	MCQs            *string
}

// ResetProcessing sets every processing kind back to NOT_PROCESSED with no result.
func (c *DocumentChanges) ResetProcessing() {
	status := domain.StatusNotProcessed
	empty := ""
	c.SummaryStatus, c.FlashcardStatus, c.MCQStatus = &status, &status, &status
	c.Summary, c.Flashcards, c.MCQs = &empty, &empty, &empty
}

// Empty reports whether no field is set.
func (c DocumentChanges) Empty() bool {
	return c.Title == nil && c.Content == nil && c.Type == nil && c.FileURL == nil &&
		c.FileKey == nil && c.FileName == nil && c.FileSize == nil && c.PageCount == nil &&
		c.SummaryStatus == nil && c.FlashcardStatus == nil && c.MCQStatus == nil &&
		c.Summary == nil && c.Flashcards == nil && c.MCQs == nil
}

func (c DocumentChanges) apply(d *domain.Document) {
	if c.Title != nil {
		d.Title = *c.Title
	}
	if c.Content != nil {
		d.Content = *c.Content
	}
	if c.Type != nil {
		d.Type = *c.Type
	}
	if c.FileURL != nil {
		d.FileURL = *c.FileURL
	}
	if c.FileKey != nil {
		d.FileKey = *c.FileKey
	}
	if c.FileName != nil {
		d.FileName = *c.FileName
	}
	if c.FileSize != nil {
		d.FileSize = *c.FileSize
	}
	if c.PageCount != nil {
		d.PageCount = *c.PageCount
	}
	if c.SummaryStatus != nil {
		d.SummaryStatus = *c.SummaryStatus
	}
	if c.FlashcardStatus != nil {
		d.FlashcardStatus = *c.FlashcardStatus
	}
	if c.MCQStatus != nil {
		d.MCQStatus = *c.MCQStatus
	}
	if c.Summary != nil {
		d.Summary = *c.Summary
	}
	if c.Flashcards != nil {
		d.Flashcards = *c.Flashcards
	}
	if c.MCQs != nil {
		d.MCQs = *c.MCQs
	}
}

func (c DocumentChanges) columns() map[string]any {
	cols := make(map[string]any)
	if c.Title != nil {
		cols["title"] = *c.Title
	}
	if c.Content != nil {
		cols["content"] = *c.Content
	}
	if c.Type != nil {
		cols["type"] = string(*c.Type)
	}
	if c.FileURL != nil {
		cols["file_url"] = *c.FileURL
	}
	if c.FileKey != nil {
		cols["file_key"] = *c.FileKey
	}
	if c.FileName != nil {
		cols["file_name"] = *c.FileName
	}
	if c.FileSize != nil {
		cols["file_size"] = *c.FileSize
	}
	if c.PageCount != nil {
		cols["page_count"] = *c.PageCount
	}
	if c.SummaryStatus != nil {
		cols["summary_status"] = string(*c.SummaryStatus)
	}
	if c.FlashcardStatus != nil {
		cols["flashcard_status"] = string(*c.FlashcardStatus)
	}
	if c.MCQStatus != nil {
		cols["mcq_status"] = string(*c.MCQStatus)
	}
	if c.Summary != nil {
		cols["summary"] = *c.Summary
	}
	if c.Flashcards != nil {
		cols["flashcards"] = *c.Flashcards
	}
	if c.MCQs != nil {
		cols["mcqs"] = *c.MCQs
	}
	return cols
}

// planProcessing resolves an update against the stored document. It returns the
// document as it would look after the write and whether a write is needed.
func planProcessing(doc domain.Document, update domain.ProcessingUpdate) (domain.Document, bool) {
	current, result := doc.Processing(update.Kind)
	apply, keepResult := domain.Transition(current, update.Status)
	if !apply {
		return doc, false
	}
	nextResult := update.Result
	// A status-only COMPLETED is a redelivery and never blanks a stored result.
	if keepResult || (update.Status == domain.StatusCompleted && update.Result == "") {
		nextResult = result
	}
	if current == update.Status && nextResult == result {
		return doc, false
	}
	switch update.Kind {
	case domain.KindSummary:
		doc.SummaryStatus, doc.Summary = update.Status, nextResult
	case domain.KindFlashcards:
		doc.FlashcardStatus, doc.Flashcards = update.Status, nextResult
	case domain.KindMCQs:
		doc.MCQStatus, doc.MCQs = update.Status, nextResult
	}
	return doc, true
}

func processingColumns(kind domain.ProcessingKind) (statusCol, resultCol string) {
	switch kind {
	case domain.KindSummary:
		return "summary_status", "summary"
	case domain.KindFlashcards:
		return "flashcard_status", "flashcards"
	case domain.KindMCQs:
		return "mcq_status", "mcqs"
	}
	return "", ""
}
