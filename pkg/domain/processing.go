package domain

import "fmt"

type ProcessingStatus string

const (
	StatusNotProcessed ProcessingStatus = "NOT_PROCESSED"
	StatusProcessing   ProcessingStatus = "PROCESSING"
	StatusCompleted    ProcessingStatus = "COMPLETED"
	StatusFailed       ProcessingStatus = "FAILED"
)

// Valid reports whether s is a known processing status.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusNotProcessed, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ProcessingKind names one of the three enrichment pipelines.
type ProcessingKind string

const (
	KindSummary    ProcessingKind = "summary"
	KindFlashcards ProcessingKind = "flashcards"
	KindMCQs       ProcessingKind = "mcqs"
)

// ParseProcessingKind accepts the canonical kind names plus the singular
// aliases the worker uses for its status fields.
func ParseProcessingKind(raw string) (ProcessingKind, error) {
	switch raw {
	case "summary":
		return KindSummary, nil
	case "flashcards", "flashcard":
		return KindFlashcards, nil
	case "mcqs", "mcq":
		return KindMCQs, nil
	}
	return "", fmt.Errorf("unknown processing kind %q", raw)
}

// ProcessingUpdate is a status change reported by the worker for one kind.
type ProcessingUpdate struct {
	Kind   ProcessingKind
	Status ProcessingStatus
	Result string
}

// Transition decides what happens when next is reported while the stored status is current.
// apply is false when the update must be ignored; keepResult is true when the stored result
// text must survive the write.
//
// COMPLETED is terminal except for a repeated COMPLETED, which may rewrite the result. FAILED
// may be retried through PROCESSING or settled directly.
func Transition(current, next ProcessingStatus) (apply bool, keepResult bool) {
	if current == "" {
		current = StatusNotProcessed
	}
	switch current {
	case StatusCompleted:
		return next == StatusCompleted, false
	case StatusNotProcessed:
		return true, next != StatusCompleted
	case StatusProcessing:
		if next == StatusNotProcessed {
			return false, true
		}
		return true, next != StatusCompleted
	case StatusFailed:
		if next == StatusNotProcessed {
			return false, true
		}
		return true, next != StatusCompleted
	}
	return false, true
}
