package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultURLTTL = time.Hour

// Blob identifies a stored payload.
type Blob struct {
	Key string
	URL string
}

// BlobConfig controls how URLs are issued for stored blobs.
type BlobConfig struct {
	// PublicBaseURL, when set, is joined with the key to form a permanent URL.
	PublicBaseURL string
	// URLTTL is the lifetime of signed URLs handed out when no public base is set.
	URLTTL time.Duration
}

// BlobStore stores user uploads under owner-namespaced random keys.
type BlobStore struct {
	objects    ObjectStore
	publicBase string
	urlTTL     time.Duration
}

// NewBlobStore wraps an object backend.
func NewBlobStore(objects ObjectStore, cfg BlobConfig) *BlobStore {
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = defaultURLTTL
	}
	return &BlobStore{
		objects:    objects,
		publicBase: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		urlTTL:     ttl,
	}
}

// Put uploads r and returns its key and URL.
func (b *BlobStore) Put(ctx context.Context, r io.Reader, size int64, contentType, ownerID, originalName string) (Blob, error) {
	key := BuildKey(ownerID, originalName)
	err := b.objects.Put(ctx, key, r, size, PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"originalName": originalName,
			"uploadedBy":   ownerID,
		},
	})
	if err != nil {
		return Blob{}, err
	}
	u, err := b.URL(ctx, key)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Key: key, URL: u}, nil
}

// URL returns the public URL for key, or a signed one when no public base is configured.
func (b *BlobStore) URL(ctx context.Context, key string) (string, error) {
	if b.publicBase != "" {
		return b.publicBase + "/" + key, nil
	}
	return b.SignedURL(ctx, key, b.urlTTL)
}

// SignedURL returns a time-limited URL for key.
func (b *BlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = b.urlTTL
	}
	u, err := b.objects.PresignGet(ctx, key, ttl)
	if err != nil {
		return "", fmt.Errorf("signed url for %s: %w", key, err)
	}
	return u, nil
}

// Delete removes the blob at key.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	return b.objects.Delete(ctx, key)
}

// SignedURLTTL is the default lifetime of signed URLs.
func (b *BlobStore) SignedURLTTL() time.Duration {
	return b.urlTTL
}

// BuildKey returns documents/<owner>/<uuid>.<ext>. The extension comes from the
// original file name and falls back to "bin".
func BuildKey(ownerID, originalName string) string {
	return fmt.Sprintf("documents/%s/%s.%s", ownerID, uuid.NewString(), extension(originalName))
}

func extension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), "."))
	if ext == "" || len(ext) > 8 {
		return "bin"
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "bin"
		}
	}
	return ext
}
