package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrBadSignature is returned for expired or tampered local file links.
var ErrBadSignature = errors.New("invalid or expired file signature")

// FileStore keeps objects on local disk for development. Signed links point back at
// the API's /files/ route and carry an HMAC over key and expiry.
type FileStore struct {
	basePath string
	baseURL  string
	secret   []byte
	now      func() time.Time
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath, baseURL, secret string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("file link secret is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   []byte(secret),
		now:      time.Now,
	}, nil
}

// Put writes the object atomically via a temp file.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ PutOptions) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("commit file: %w", err)
	}
	return nil
}

// PresignGet returns a link to the /files/ route valid for expiry.
func (f *FileStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := f.path(key); err != nil {
		return "", err
	}
	expires := strconv.FormatInt(f.now().Add(expiry).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", f.sign(key, expires))
	return f.baseURL + "/files/" + key + "?" + q.Encode(), nil
}

// Delete removes the object; a missing file counts as deleted.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Open verifies a signed link and opens the object.
func (f *FileStore) Open(key, expires, sig string) (*os.File, error) {
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || f.now().Unix() > unix {
		return nil, ErrBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(f.sign(key, expires))) {
		return nil, ErrBadSignature
	}
	target, err := f.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return file, err
}

func (f *FileStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, f.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// path maps a key below basePath and refuses keys that escape it.
func (f *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.basePath, clean), nil
}
