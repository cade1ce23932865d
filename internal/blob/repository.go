// Package blob layers content addressing over a core.Store backend. Files are
// stored under sha256/<hex> and referenced from records by FileID.
package blob

import (
	"archivecore/internal/blob/core"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	keyPrefix = "sha256/"
	// MetadataFilename carries the original filename in backend metadata.
	MetadataFilename = "filename"
)

// FileID is the opaque reference stored in record attributes: <driver>://sha256/<hex>.
type FileID string

// ParseFileID splits id into its driver and hex digest.
func ParseFileID(id string) (core.Driver, string, error) {
	driver, rest, ok := strings.Cut(id, "://")
	if !ok || driver == "" || !strings.HasPrefix(rest, keyPrefix) {
		return "", "", fmt.Errorf("malformed file id %q", id)
	}
	digest := strings.TrimPrefix(rest, keyPrefix)
	if len(digest) != sha256.Size*2 {
		return "", "", fmt.Errorf("malformed file id %q", id)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", fmt.Errorf("malformed file id %q", id)
	}
	return core.Driver(driver), digest, nil
}

// FileInfo describes a stored file.
type FileInfo struct {
	FileID      FileID
	Digest      string
	Size        int64
	ContentType string
	Filename    string
}

// UploadOptions describe an upload.
type UploadOptions struct {
	Filename    string
	ContentType string
}

// Repository is the content-addressable store used by handlers and workers.
type Repository struct {
	backend core.Store
	tmpDir  string
}

// NewRepository wraps backend.
func NewRepository(backend core.Store) *Repository {
	return &Repository{backend: backend}
}

// Driver returns the backend driver.
func (r *Repository) Driver() core.Driver { return r.backend.Driver() }

// Backend exposes the key/value store underneath.
func (r *Repository) Backend() core.Store { return r.backend }

// Upload hashes content into a temp file and stores it under its digest.
// Uploading identical bytes twice returns the existing file.
func (r *Repository) Upload(ctx context.Context, content io.Reader, opts UploadOptions) (FileInfo, error) {
	tmp, err := os.CreateTemp(r.tmpDir, "archivecore-upload-*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("stage upload: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), content); err != nil {
		return FileInfo{}, fmt.Errorf("stage upload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return FileInfo{}, fmt.Errorf("stage upload: %w", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	key := keyPrefix + digest
	var md map[string]string
	if opts.Filename != "" {
		md = map[string]string{MetadataFilename: opts.Filename}
	}
	info, err := r.backend.Put(ctx, key, tmp, core.PutOptions{ContentType: opts.ContentType, Metadata: md})
	if errors.Is(err, core.ErrExists) {
		info, err = r.backend.Head(ctx, key)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return r.fileInfo(info), nil
}

// Open streams the file content.
func (r *Repository) Open(ctx context.Context, id FileID) (io.ReadCloser, FileInfo, error) {
	key, err := r.key(id)
	if err != nil {
		return nil, FileInfo{}, err
	}
	info, body, err := r.backend.Get(ctx, key)
	if err != nil {
		return nil, FileInfo{}, err
	}
	return body, r.fileInfo(info), nil
}

// Stat returns file metadata.
func (r *Repository) Stat(ctx context.Context, id FileID) (FileInfo, error) {
	key, err := r.key(id)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := r.backend.Head(ctx, key)
	if err != nil {
		return FileInfo{}, err
	}
	return r.fileInfo(info), nil
}

// Delete removes the file, reporting whether it existed.
func (r *Repository) Delete(ctx context.Context, id FileID) (bool, error) {
	key, err := r.key(id)
	if err != nil {
		return false, err
	}
	return r.backend.Delete(ctx, key)
}

// List returns every content-addressed file.
func (r *Repository) List(ctx context.Context) ([]FileInfo, error) {
	infos, err := r.backend.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, r.fileInfo(info))
	}
	return out, nil
}

// Verify re-hashes the stored bytes and reports whether they still match the digest.
func (r *Repository) Verify(ctx context.Context, id FileID) (bool, error) {
	body, info, err := r.Open(ctx, id)
	if err != nil {
		return false, err
	}
	defer func() { _ = body.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return false, fmt.Errorf("verify %s: %w", id, err)
	}
	return hex.EncodeToString(h.Sum(nil)) == info.Digest, nil
}

// IsNotFound reports whether err means the file does not exist.
func IsNotFound(err error) bool { return errors.Is(err, core.ErrNotFound) }

func (r *Repository) key(id FileID) (string, error) {
	driver, digest, err := ParseFileID(string(id))
	if err != nil {
		return "", err
	}
	if driver != r.backend.Driver() {
		return "", fmt.Errorf("file %s belongs to driver %s, not %s", id, driver, r.backend.Driver())
	}
	return keyPrefix + digest, nil
}

func (r *Repository) fileInfo(info core.Info) FileInfo {
	digest := strings.TrimPrefix(info.Key, keyPrefix)
	return FileInfo{
		FileID:      FileID(string(r.backend.Driver()) + "://" + info.Key),
		Digest:      digest,
		Size:        info.Size,
		ContentType: info.ContentType,
		Filename:    info.Metadata[MetadataFilename],
	}
}
