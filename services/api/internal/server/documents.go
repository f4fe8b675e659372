package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"mindmate/internal/util"
	"mindmate/pkg/auth"
	"mindmate/pkg/domain"
	"mindmate/pkg/storage"
	"mindmate/services/api/internal/app"
)

const (
	pdfContentType = "application/pdf"
	// multipartOverhead is headroom for boundaries and part headers around the file.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
	sniffLen          = 512
)

type createDocumentRequest struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	SubjectID string `json:"subjectId"`
}

type updateDocumentRequest struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	FileName *string `json:"fileName"`
}

type processingRequest struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Result string `json:"result"`
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := s.documents.Create(r.Context(), app.CreateDocumentInput{
		Title:     req.Title,
		Type:      domain.DocumentType(req.Type),
		Content:   req.Content,
		SubjectID: req.SubjectID,
	}, claims.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// /documents/{id}, /documents/{id}/{action} or /documents/subject/{subjectId}
func (s *Server) handleDocumentRoutes(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/documents/"), "/")
	if len(parts) > 2 || parts[0] == "" {
		notFound(w, "not found")
		return
	}
	if parts[0] == "subject" && len(parts) == 2 {
		s.handleDocumentsBySubject(w, r, claims, parts[1])
		return
	}
	id := parts[0]
	if !util.IsID(id) {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if len(parts) == 1 {
		s.handleDocumentByID(w, r, claims, id)
		return
	}
	switch parts[1] {
	case "attach-pdf":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleAttachPDF(w, r, claims, id)
	case "process":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		doc, err := s.documents.RequestProcessing(r.Context(), id, claims.UserID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, doc)
	case "file":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		url, ttl, err := s.documents.FileURL(r.Context(), id, claims.UserID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"url":       url,
			"expiresIn": int64(ttl.Seconds()),
		})
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, claims auth.Claims, id string) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.documents.Get(r.Context(), id, claims.UserID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPut, http.MethodPatch:
		var req updateDocumentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		doc, err := s.documents.Update(r.Context(), id, app.DocumentPatch{
			Title:    req.Title,
			Content:  req.Content,
			FileName: req.FileName,
		}, claims.UserID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.documents.Delete(r.Context(), id, claims.UserID); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocumentsBySubject(w http.ResponseWriter, r *http.Request, claims auth.Claims, subjectID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !util.IsID(subjectID) {
		writeError(w, http.StatusBadRequest, "invalid subject id")
		return
	}
	docs, err := s.documents.ListBySubject(r.Context(), subjectID, claims.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleAttachPDF checks size and media type before the registry sees the file:
// the declared part type and the sniffed leading bytes must both be PDF.
func (s *Server) handleAttachPDF(w http.ResponseWriter, r *http.Request, claims auth.Claims, id string) {
	limit := s.maxUploadBytes + multipartOverhead
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if header.Size == 0 {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	declared, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if declared != pdfContentType {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type: only application/pdf is accepted")
		return
	}
	head := make([]byte, sniffLen)
	n, _ := file.ReadAt(head, 0)
	if http.DetectContentType(head[:n]) != pdfContentType {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type: content is not a PDF")
		return
	}
	doc, err := s.documents.AttachPDF(r.Context(), id, app.PDFUpload{
		File:        file,
		Name:        header.Filename,
		Size:        header.Size,
		ContentType: declared,
	}, claims.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// /internal/documents/{id}/processing
func (s *Server) handleInternalDocument(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/internal/documents/"), "/")
	if len(parts) != 2 || parts[1] != "processing" || parts[0] == "" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req processingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := s.documents.ApplyProcessing(r.Context(), parts[0], domain.ProcessingUpdate{
		Kind:   domain.ProcessingKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Status: domain.ProcessingStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Result: req.Result,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// /internal/queues/{name}
func (s *Server) handleInternalQueue(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/internal/queues/")
	if name == "" || strings.Contains(name, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	length, err := s.tasks.Length(r.Context(), name)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("queue length failed", "queue", name, "err", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	next, ok, err := s.tasks.Peek(r.Context(), name)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("queue peek failed", "queue", name, "err", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	if !ok {
		next = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":   name,
		"length": length,
		"next":   next,
	})
}

// /files/{key} serves local blobs behind signed links.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/files/")
	q := r.URL.Query()
	f, err := s.files.Open(key, q.Get("expires"), q.Get("sig"))
	switch {
	case errors.Is(err, storage.ErrBadSignature):
		writeError(w, http.StatusForbidden, "invalid or expired link")
		return
	case errors.Is(err, storage.ErrObjectNotFound):
		notFound(w, "file not found")
		return
	case err != nil:
		util.LoggerFromContext(r.Context()).Error("open file failed", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}
