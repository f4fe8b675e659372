package app

import (
	"context"
	"fmt"
	"time"

	"mindmate/internal/util"
	"mindmate/pkg/domain"
	"mindmate/pkg/store"
)

// SubjectRegistry owns the user to subjects hierarchy. A subject owned by someone
// else is reported exactly like a missing one.
type SubjectRegistry struct {
	store store.Store
	now   func() time.Time
}

func NewSubjectRegistry(st store.Store) *SubjectRegistry {
	return &SubjectRegistry{store: st, now: time.Now}
}

func (r *SubjectRegistry) Create(ctx context.Context, in CreateSubjectInput, ownerID string) (domain.Subject, error) {
	in, err := in.Validate()
	if err != nil {
		return domain.Subject{}, err
	}
	now := r.now().UTC()
	subject := domain.Subject{
		ID:        util.NewID(),
		Name:      in.Name,
		UserID:    ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveSubject(ctx, subject); err != nil {
		return domain.Subject{}, fmt.Errorf("save subject: %w", err)
	}
	return subject, nil
}

// ListForOwner returns the owner's subjects, newest first.
func (r *SubjectRegistry) ListForOwner(ctx context.Context, ownerID string) ([]domain.Subject, error) {
	subjects, err := r.store.ListSubjectsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

func (r *SubjectRegistry) GetOwned(ctx context.Context, id, ownerID string) (domain.Subject, error) {
	subject, ok, err := r.store.GetSubjectOwned(ctx, id, ownerID)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("fetch subject: %w", err)
	}
	if !ok {
		return domain.Subject{}, ErrSubjectNotFound
	}
	return subject, nil
}

// Delete removes the subject only. Documents filed under it are kept.
func (r *SubjectRegistry) Delete(ctx context.Context, id, ownerID string) error {
	deleted, err := r.store.DeleteSubjectOwned(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	if !deleted {
		return ErrSubjectNotFound
	}
	return nil
}
