package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mindmate/pkg/domain"
)

// MemoryStore keeps records in-process. It backs local runs without a database and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User // key: user ID
	email     map[string]string      // email -> user ID
	subjects  map[string]domain.Subject
	subjOrder []string
	docs      map[string]domain.Document
	docOrder  []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		subjects: make(map[string]domain.Subject),
		docs:     make(map[string]domain.Document),
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// SaveUser registers or replaces a user. Email uniqueness is enforced.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.email[u.Email]; ok && owner != u.ID {
		return ErrDuplicateEmail
	}
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveSubject inserts a subject.
func (m *MemoryStore) SaveSubject(_ context.Context, s domain.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subjects[s.ID]; !exists {
		m.subjOrder = append(m.subjOrder, s.ID)
	}
	m.subjects[s.ID] = s
	return nil
}

// ListSubjectsByOwner returns the owner's subjects, newest first.
func (m *MemoryStore) ListSubjectsByOwner(_ context.Context, ownerID string) ([]domain.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Subject, 0)
	for i := len(m.subjOrder) - 1; i >= 0; i-- {
		if s, ok := m.subjects[m.subjOrder[i]]; ok && s.UserID == ownerID {
			res = append(res, s)
		}
	}
	return res, nil
}

// GetSubjectOwned returns the subject only when ownerID owns it.
func (m *MemoryStore) GetSubjectOwned(_ context.Context, id, ownerID string) (domain.Subject, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok || s.UserID != ownerID {
		return domain.Subject{}, false, nil
	}
	return s, true, nil
}

// DeleteSubjectOwned removes the subject when ownerID owns it.
func (m *MemoryStore) DeleteSubjectOwned(_ context.Context, id, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok || s.UserID != ownerID {
		return false, nil
	}
	delete(m.subjects, id)
	m.subjOrder = removeID(m.subjOrder, id)
	return true, nil
}

// SaveDocument inserts a document.
func (m *MemoryStore) SaveDocument(_ context.Context, d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[d.ID]; !exists {
		m.docOrder = append(m.docOrder, d.ID)
	}
	d.SummaryStatus = domain.ProcessingStatus(statusOrDefault(d.SummaryStatus))
	d.FlashcardStatus = domain.ProcessingStatus(statusOrDefault(d.FlashcardStatus))
	d.MCQStatus = domain.ProcessingStatus(statusOrDefault(d.MCQStatus))
	m.docs[d.ID] = d
	return nil
}

// GetDocument loads a document by id regardless of owner.
func (m *MemoryStore) GetDocument(_ context.Context, id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d, ok, nil
}

// ListDocumentsBySubject returns documents matching both subject and owner, newest first.
func (m *MemoryStore) ListDocumentsBySubject(_ context.Context, subjectID, ownerID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for i := len(m.docOrder) - 1; i >= 0; i-- {
		d, ok := m.docs[m.docOrder[i]]
		if ok && d.UserID == ownerID && d.SubjectID == subjectID {
			res = append(res, d)
		}
	}
	return res, nil
}

// UpdateDocumentOwned applies changes when ownerID owns the document.
func (m *MemoryStore) UpdateDocumentOwned(_ context.Context, id, ownerID string, changes DocumentChanges) (domain.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.UserID != ownerID {
		return domain.Document{}, false, nil
	}
	changes.apply(&d)
	d.UpdatedAt = time.Now().UTC()
	m.docs[id] = d
	return d, true, nil
}

// DeleteDocumentOwned removes the document when ownerID owns it.
func (m *MemoryStore) DeleteDocumentOwned(_ context.Context, id, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.UserID != ownerID {
		return false, nil
	}
	delete(m.docs, id)
	m.docOrder = removeID(m.docOrder, id)
	return true, nil
}

// ApplyProcessing records a worker status report under the store lock.
func (m *MemoryStore) ApplyProcessing(_ context.Context, id string, update domain.ProcessingUpdate) (domain.Document, bool, error) {
	if statusCol, _ := processingColumns(update.Kind); statusCol == "" {
		return domain.Document{}, false, fmt.Errorf("unknown processing kind %q", update.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.Document{}, false, ErrNotFound
	}
	next, write := planProcessing(d, update)
	if !write {
		return d, false, nil
	}
	next.UpdatedAt = time.Now().UTC()
	m.docs[id] = next
	return next, true, nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
