package store

import (
	"time"

	"mindmate/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey;size:32"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type SubjectModel struct {
	ID        string    `gorm:"primaryKey;size:32"`
	UserID    string    `gorm:"size:32;not null;index:idx_subjects_user"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SubjectModel) TableName() string { return "subjects" }

type DocumentModel struct {
	ID        string `gorm:"primaryKey;size:32"`
	Title     string `gorm:"not null"`
	Type      string `gorm:"size:8;not null"`
	Content   string `gorm:"type:text"`
	UserID    string `gorm:"size:32;not null;index:idx_documents_user;index:idx_documents_user_subject,priority:1"`
	SubjectID string `gorm:"size:32;not null;index:idx_documents_user_subject,priority:2"`

	FileURL   string
	FileKey   string
	FileName  string
	FileSize  int64 `gorm:"not null;default:0"`
	PageCount int   `gorm:"not null;default:0"`

	SummaryStatus   string `gorm:"size:16;not null;default:'NOT_PROCESSED'"`
	FlashcardStatus string `gorm:"size:16;not null;default:'NOT_PROCESSED'"`
	MCQStatus       string `gorm:"column:mcq_status;size:16;not null;default:'NOT_PROCESSED'"`
	Summary         string `gorm:"type:text"`
	Flashcards      string `gorm:"type:text"`
	MCQs            string `gorm:"column:mcqs;type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func subjectToModel(s domain.Subject) SubjectModel {
	return SubjectModel{
		ID:        s.ID,
		UserID:    s.UserID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func subjectFromModel(m SubjectModel) domain.Subject {
	return domain.Subject{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:              d.ID,
		Title:           d.Title,
		Type:            string(d.Type),
		Content:         d.Content,
		UserID:          d.UserID,
		SubjectID:       d.SubjectID,
		FileURL:         d.FileURL,
		FileKey:         d.FileKey,
		FileName:        d.FileName,
		FileSize:        d.FileSize,
		PageCount:       d.PageCount,
		SummaryStatus:   statusOrDefault(d.SummaryStatus),
		FlashcardStatus: statusOrDefault(d.FlashcardStatus),
		MCQStatus:       statusOrDefault(d.MCQStatus),
		Summary:         d.Summary,
		Flashcards:      d.Flashcards,
		MCQs:            d.MCQs,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:              m.ID,
		Title:           m.Title,
		Type:            domain.DocumentType(m.Type),
		Content:         m.Content,
		UserID:          m.UserID,
		SubjectID:       m.SubjectID,
		FileURL:         m.FileURL,
		FileKey:         m.FileKey,
		FileName:        m.FileName,
		FileSize:        m.FileSize,
		PageCount:       m.PageCount,
		SummaryStatus:   domain.ProcessingStatus(m.SummaryStatus),
		FlashcardStatus: domain.ProcessingStatus(m.FlashcardStatus),
		MCQStatus:       domain.ProcessingStatus(m.MCQStatus),
		Summary:         m.Summary,
		Flashcards:      m.Flashcards,
		MCQs:            m.MCQs,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func statusOrDefault(s domain.ProcessingStatus) string {
	if s == "" {
		return string(domain.StatusNotProcessed)
	}
	return string(s)
}
