package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrObjectNotFound is returned for reads of paths that hold no file.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrObjectTooLarge is returned when an upload exceeds the configured limit.
	ErrObjectTooLarge = errors.New("storage: object exceeds size limit")
	// ErrInvalidPath rejects empty paths and paths escaping the bucket.
	ErrInvalidPath = errors.New("storage: invalid object path")
)

// LocalBlobStore persists uploaded files on disk under a base directory using
// the same slash separated object paths a cloud bucket would.
type LocalBlobStore struct {
	baseDir  string
	maxBytes int64
	signer   *URLSigner
	baseURL  string
}

// NewLocalBlobStore ensures the base directory exists. Download URLs are
// rendered as {baseURL}/files/{path}?token=...
func NewLocalBlobStore(baseDir string, maxBytes int64, signer *URLSigner, baseURL string) (*LocalBlobStore, error) {
	if baseDir == "" {
		baseDir = "./blobs"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &LocalBlobStore{
		baseDir:  baseDir,
		maxBytes: maxBytes,
		signer:   signer,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// PutFile streams r to objectPath, replacing any existing object. The write
// goes through a temp file so readers never observe a partial object.
func (s *LocalBlobStore) PutFile(ctx context.Context, objectPath string, r io.Reader) error {
	target, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("prepare blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create blob file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write blob stream: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		return ErrObjectTooLarge
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("commit blob file: %w", err)
	}
	return nil
}

// GetFile opens a stored object for reading.
func (s *LocalBlobStore) GetFile(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	target, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	if info, err := file.Stat(); err == nil && info.IsDir() {
		_ = file.Close()
		return nil, ErrObjectNotFound
	}
	return file, nil
}

// Exists reports whether objectPath holds a file.
func (s *LocalBlobStore) Exists(ctx context.Context, objectPath string) (bool, error) {
	target, err := s.resolve(objectPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob file: %w", err)
	}
	return !info.IsDir(), nil
}

// ListChildren returns the file names directly under prefix, sorted. A
// missing prefix yields an empty list.
func (s *LocalBlobStore) ListChildren(ctx context.Context, prefix string) ([]string, error) {
	dir, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list blob directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".upload-") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a stored file if present.
func (s *LocalBlobStore) Delete(ctx context.Context, objectPath string) error {
	target, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob file: %w", err)
	}
	return nil
}

// DownloadURL issues a durable URL for an existing object. The URL does not
// expire; it stays valid for as long as the signing secret is unchanged.
func (s *LocalBlobStore) DownloadURL(ctx context.Context, objectPath string) (string, error) {
	ok, err := s.Exists(ctx, objectPath)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrObjectNotFound
	}
	if s.signer == nil {
		return "", fmt.Errorf("download url signer not configured")
	}
	clean, _ := cleanObjectPath(objectPath)
	token, err := s.signer.Sign(clean)
	if err != nil {
		return "", err
	}

	segments := strings.Split(clean, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/files/%s?token=%s", s.baseURL, strings.Join(segments, "/"), url.QueryEscape(token)), nil
}

// ObjectPathFromURL recovers the object path from a URL issued by DownloadURL.
func (s *LocalBlobStore) ObjectPathFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || s.signer == nil {
		return "", false
	}
	objectPath, err := s.signer.Verify(u.Query().Get("token"))
	if err != nil {
		return "", false
	}
	return objectPath, true
}

func (s *LocalBlobStore) resolve(objectPath string) (string, error) {
	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func cleanObjectPath(objectPath string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(objectPath), "/")
	if trimmed == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", ErrInvalidPath
		}
	}
	return path.Clean(trimmed), nil
}
