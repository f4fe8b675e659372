package app

import (
	"io"
	"net/mail"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"mindmate/internal/util"
	"mindmate/pkg/auth"
	"mindmate/pkg/domain"
)

const (
	maxNameLen  = 100
	maxTitleLen = 200
	maxEmailLen = 254

	// MaxPDFBytes is the largest file attachPdf accepts.
	MaxPDFBytes int64 = 50 << 20

	pdfContentType = "application/pdf"
)

// SignupInput is a checked signup request.
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// Validate trims and lowercases fields and enforces the password policy.
func (in SignupInput) Validate() (SignupInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, invalid("name is required")
	}
	if utf8.RuneCountInString(in.Name) > maxNameLen {
		return in, invalid("name must be at most %d characters", maxNameLen)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return in, err
	}
	in.Email = email
	if err := auth.ValidatePassword(in.Password); err != nil {
		return in, invalid("%s", err.Error())
	}
	return in, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", invalid("email is required")
	}
	if len(email) > maxEmailLen {
		return "", invalid("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email is not valid")
	}
	return email, nil
}

// CreateSubjectInput is a checked subject creation request.
type CreateSubjectInput struct {
	Name string
}

func (in CreateSubjectInput) Validate() (CreateSubjectInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, invalid("name is required")
	}
	if utf8.RuneCountInString(in.Name) > maxNameLen {
		return in, invalid("name must be at most %d characters", maxNameLen)
	}
	return in, nil
}

// CreateDocumentInput is a checked document creation request.
// Content is required for TEXT documents only.
type CreateDocumentInput struct {
	Title     string
	Type      domain.DocumentType
	Content   string
	SubjectID string
}

func (in CreateDocumentInput) Validate() (CreateDocumentInput, error) {
	title, err := validateTitle(in.Title)
	if err != nil {
		return in, err
	}
	in.Title = title
	in.Type = domain.DocumentType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	if !in.Type.Valid() {
		return in, invalid("type must be TEXT or PDF")
	}
	if in.Type == domain.DocumentTypeText && strings.TrimSpace(in.Content) == "" {
		return in, invalid("content is required for TEXT documents")
	}
	in.SubjectID = strings.TrimSpace(in.SubjectID)
	if !util.IsID(in.SubjectID) {
		return in, invalid("subjectId is not a valid id")
	}
	return in, nil
}

// DocumentPatch is a partial document update. Nil fields are left untouched.
type DocumentPatch struct {
	Title    *string
	Content  *string
	FileName *string
}

func (p DocumentPatch) Validate() (DocumentPatch, error) {
	if p.Title == nil && p.Content == nil && p.FileName == nil {
		return p, invalid("no fields to update")
	}
	if p.Title != nil {
		title, err := validateTitle(*p.Title)
		if err != nil {
			return p, err
		}
		p.Title = &title
	}
	if p.FileName != nil {
		name := strings.TrimSpace(filepath.Base(*p.FileName))
		if name == "" || name == "." {
			return p, invalid("fileName must not be empty")
		}
		p.FileName = &name
	}
	return p, nil
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", invalid("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", invalid("title must be at most %d characters", maxTitleLen)
	}
	return title, nil
}

// PDFUpload is an uploaded file that passed the size and media type checks.
type PDFUpload struct {
	File        io.ReaderAt
	Name        string
	Size        int64
	ContentType string
}

func (u PDFUpload) Validate() (PDFUpload, error) {
	if u.File == nil || u.Size <= 0 {
		return u, invalid("file is required")
	}
	if u.Size > MaxPDFBytes {
		return u, invalid("file exceeds %d bytes", MaxPDFBytes)
	}
	if !strings.EqualFold(strings.TrimSpace(u.ContentType), pdfContentType) {
		return u, invalid("file must be application/pdf")
	}
	u.ContentType = pdfContentType
	u.Name = strings.TrimSpace(filepath.Base(u.Name))
	if u.Name == "" || u.Name == "." || u.Name == "/" {
		u.Name = "document.pdf"
	}
	return u, nil
}
