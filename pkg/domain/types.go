package domain

import "time"

type DocumentType string

const (
	DocumentTypeText DocumentType = "TEXT"
	DocumentTypePDF  DocumentType = "PDF"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	return t == DocumentTypeText || t == DocumentTypePDF
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Document is a note owned by one user and filed under one of that user's subjects.
// File fields are populated by an attach, processing fields by the worker.
type Document struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Type      DocumentType `json:"type"`
	Content   string       `json:"content,omitempty"`
	UserID    string       `json:"userId"`
	SubjectID string       `json:"subjectId"`

	FileURL   string `json:"fileUrl,omitempty"`
	FileKey   string `json:"fileKey,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	PageCount int    `json:"pageCount,omitempty"`

	SummaryStatus   ProcessingStatus `json:"summaryStatus"`
	FlashcardStatus ProcessingStatus `json:"flashcardStatus"`
	MCQStatus       ProcessingStatus `json:"mcqStatus"`
	Summary         string           `json:"summary"`
	Flashcards      string           `json:"flashcards"`
	MCQs            string           `json:"mcqs"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasFile reports whether a blob is attached.
func (d Document) HasFile() bool {
	return d.FileKey != ""
}

// Processing returns the status and result currently stored for kind.
func (d Document) Processing(kind ProcessingKind) (ProcessingStatus, string) {
	switch kind {
	case KindSummary:
		return d.SummaryStatus, d.Summary
	case KindFlashcards:
		return d.FlashcardStatus, d.Flashcards
	case KindMCQs:
		return d.MCQStatus, d.MCQs
	}
	return "", ""
}

// Task is the payload pushed to the processing queue.
type Task struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

// ProcessPDFQueue is the queue the external PDF worker consumes.
const ProcessPDFQueue = "process-pdf"
