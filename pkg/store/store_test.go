package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindmate/pkg/domain"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := NewGormStore("sqlite:" + filepath.Join(t.TempDir(), "mindmate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMemory(t *testing.T) Store {
	t.Helper()
	return NewMemoryStore()
}

var backends = map[string]func(*testing.T) Store{
	"memory": newMemory,
	"sqlite": newSQLiteStore,
}

func seedDocument(t *testing.T, s Store, id, owner, subject string, created time.Time) domain.Document {
	t.Helper()
	doc := domain.Document{
		ID:        id,
		Title:     "doc " + id,
		Type:      domain.DocumentTypeText,
		Content:   "body",
		UserID:    owner,
		SubjectID: subject,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, s.SaveDocument(context.Background(), doc), "save document %s", id)
	return doc
}

func report(kind domain.ProcessingKind, status domain.ProcessingStatus, result string) domain.ProcessingUpdate {
	return domain.ProcessingUpdate{Kind: kind, Status: status, Result: result}
}

func TestUsers(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			now := time.Now().UTC()
			u := domain.User{ID: "u1", Name: "Ada", Email: "ada@example.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now}
			require.NoError(t, s.SaveUser(ctx, u))

			exists, err := s.HasUserEmail(ctx, "ada@example.com")
			require.NoError(t, err)
			assert.True(t, exists)

			got, ok, err := s.GetUserByEmail(ctx, "ada@example.com")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "u1", got.ID)
			assert.Equal(t, "Ada", got.Name)

			_, ok, _ = s.GetUserByID(ctx, "missing")
			assert.False(t, ok)

			dup := domain.User{ID: "u2", Name: "Eve", Email: "ada@example.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now}
			assert.ErrorIs(t, s.SaveUser(ctx, dup), ErrDuplicateEmail)
		})
	}
}

func TestSubjectsScopedByOwner(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			base := time.Now().UTC().Add(-time.Hour)
			for i, id := range []string{"s1", "s2"} {
				ts := base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, s.SaveSubject(ctx, domain.Subject{ID: id, Name: id, UserID: "alice", CreatedAt: ts, UpdatedAt: ts}))
			}
			require.NoError(t, s.SaveSubject(ctx, domain.Subject{ID: "s3", Name: "s3", UserID: "bob", CreatedAt: base, UpdatedAt: base}))

			list, err := s.ListSubjectsByOwner(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "s2", list[0].ID, "newest first")
			assert.Equal(t, "s1", list[1].ID)

			_, ok, _ := s.GetSubjectOwned(ctx, "s1", "bob")
			assert.False(t, ok, "bob must not see alice's subject")

			deleted, err := s.DeleteSubjectOwned(ctx, "s1", "bob")
			require.NoError(t, err)
			assert.False(t, deleted, "cross-owner delete")
			deleted, err = s.DeleteSubjectOwned(ctx, "s1", "alice")
			require.NoError(t, err)
			assert.True(t, deleted)

			_, ok, _ = s.GetSubjectOwned(ctx, "s1", "alice")
			assert.False(t, ok, "subject still present after delete")
		})
	}
}

func TestDocumentOwnedWrites(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seedDocument(t, s, "d1", "alice", "s1", time.Now().UTC())

			title := "renamed"
			_, ok, err := s.UpdateDocumentOwned(ctx, "d1", "bob", DocumentChanges{Title: &title})
			require.NoError(t, err)
			assert.False(t, ok, "cross-owner update matched")

			got, ok, err := s.UpdateDocumentOwned(ctx, "d1", "alice", DocumentChanges{Title: &title})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "renamed", got.Title)
			assert.Equal(t, "body", got.Content, "partial update keeps other fields")
			assert.Equal(t, domain.StatusNotProcessed, got.SummaryStatus)

			ok, _ = s.DeleteDocumentOwned(ctx, "d1", "bob")
			assert.False(t, ok, "cross-owner delete")
			ok, _ = s.DeleteDocumentOwned(ctx, "d1", "alice")
			assert.True(t, ok)
			_, ok, _ = s.UpdateDocumentOwned(ctx, "d1", "alice", DocumentChanges{Title: &title})
			assert.False(t, ok, "update after delete matched a row")
		})
	}
}

func TestResetProcessingInOwnedUpdate(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seedDocument(t, s, "d1", "alice", "s1", time.Now().UTC())
			for _, r := range []domain.ProcessingUpdate{
				report(domain.KindSummary, domain.StatusCompleted, "old summary"),
				report(domain.KindFlashcards, domain.StatusFailed, ""),
				report(domain.KindMCQs, domain.StatusCompleted, "old mcqs"),
			} {
				_, _, err := s.ApplyProcessing(ctx, "d1", r)
				require.NoError(t, err)
			}

			key := "documents/alice/new.pdf"
			changes := DocumentChanges{FileKey: &key}
			changes.ResetProcessing()
			_, ok, err := s.UpdateDocumentOwned(ctx, "d1", "bob", changes)
			require.NoError(t, err)
			assert.False(t, ok, "reset is owner scoped")

			got, ok, err := s.UpdateDocumentOwned(ctx, "d1", "alice", changes)
			require.NoError(t, err)
			require.True(t, ok)
			stored, _, err := s.GetDocument(ctx, "d1")
			require.NoError(t, err)
			for _, doc := range []domain.Document{got, stored} {
				assert.Equal(t, key, doc.FileKey)
				assert.Equal(t, domain.StatusNotProcessed, doc.SummaryStatus)
				assert.Equal(t, domain.StatusNotProcessed, doc.FlashcardStatus)
				assert.Equal(t, domain.StatusNotProcessed, doc.MCQStatus)
				assert.Empty(t, doc.Summary)
				assert.Empty(t, doc.MCQs)
			}

			failed, changed, err := s.ApplyProcessing(ctx, "d1", report(domain.KindSummary, domain.StatusFailed, ""))
			require.NoError(t, err)
			assert.True(t, changed, "a reset kind accepts new reports")
			assert.Equal(t, domain.StatusFailed, failed.SummaryStatus)
		})
	}
}

func TestListDocumentsBySubject(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			base := time.Now().UTC().Add(-time.Hour)
			seedDocument(t, s, "d1", "alice", "s1", base)
			seedDocument(t, s, "d2", "alice", "s1", base.Add(time.Minute))
			seedDocument(t, s, "d3", "alice", "s2", base)
			seedDocument(t, s, "d4", "bob", "s1", base)

			docs, err := s.ListDocumentsBySubject(ctx, "s1", "alice")
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "d2", docs[0].ID)
			assert.Equal(t, "d1", docs[1].ID)
		})
	}
}

func TestApplyProcessing(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seedDocument(t, s, "d1", "alice", "s1", time.Now().UTC())

			_, changed, err := s.ApplyProcessing(ctx, "d1", report(domain.KindSummary, domain.StatusProcessing, ""))
			require.NoError(t, err)
			assert.True(t, changed)

			done := report(domain.KindSummary, domain.StatusCompleted, "short summary")
			doc, changed, err := s.ApplyProcessing(ctx, "d1", done)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, domain.StatusCompleted, doc.SummaryStatus)
			assert.Equal(t, "short summary", doc.Summary)

			again, changed, err := s.ApplyProcessing(ctx, "d1", done)
			require.NoError(t, err)
			assert.False(t, changed, "replay")
			assert.Equal(t, domain.StatusCompleted, again.SummaryStatus)
			assert.Equal(t, "short summary", again.Summary)

			stale, changed, err := s.ApplyProcessing(ctx, "d1", report(domain.KindSummary, domain.StatusProcessing, ""))
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, domain.StatusCompleted, stale.SummaryStatus, "stale report must not regress state")

			stored, _, _ := s.GetDocument(ctx, "d1")
			assert.Equal(t, domain.StatusNotProcessed, stored.FlashcardStatus, "other kinds untouched")
			assert.Equal(t, domain.StatusNotProcessed, stored.MCQStatus)

			_, _, err = s.ApplyProcessing(ctx, "missing", done)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestApplyProcessingStatusOnlyCompletionKeepsResult(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seedDocument(t, s, "d1", "alice", "s1", time.Now().UTC())

			_, _, err := s.ApplyProcessing(ctx, "d1", report(domain.KindFlashcards, domain.StatusCompleted, "cells are small"))
			require.NoError(t, err)

			doc, changed, err := s.ApplyProcessing(ctx, "d1", report(domain.KindFlashcards, domain.StatusCompleted, ""))
			require.NoError(t, err)
			assert.False(t, changed, "a redelivered completion without a result is a no-op")
			assert.Equal(t, "cells are small", doc.Flashcards)

			stored, _, err := s.GetDocument(ctx, "d1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, stored.FlashcardStatus)
			assert.Equal(t, "cells are small", stored.Flashcards)

			rewritten, changed, err := s.ApplyProcessing(ctx, "d1", report(domain.KindFlashcards, domain.StatusCompleted, "cells are very small"))
			require.NoError(t, err)
			assert.True(t, changed, "a completion carrying a result still rewrites it")
			assert.Equal(t, "cells are very small", rewritten.Flashcards)
		})
	}
}
