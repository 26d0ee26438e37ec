// Package storage is the object storage boundary. The sync core only keeps
// the reference string an ObjectStore returns, never the binary.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"socialsync/internal/middleware"
	"socialsync/internal/models"
)

// MaxObjectBytes caps a single upload.
const MaxObjectBytes = 10 << 20

var errTooLarge = errors.New("object exceeds upload limit")

// ObjectStore accepts a binary and a target path and returns a publicly
// addressable reference.
type ObjectStore interface {
	Put(ctx context.Context, target string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// LocalStore writes objects under Root and addresses them under BaseURL.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates root if needed.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// ObjectPath is the content-addressed target for an upload by owner.
// Uploading the same bytes twice yields the same path.
func ObjectPath(owner, filename string, content []byte) string {
	sum := sha256.Sum256(content)
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(owner, hex.EncodeToString(sum[:])+ext)
}

// Put stores r at target and returns the public reference.
func (s *LocalStore) Put(ctx context.Context, target string, r io.Reader) (string, error) {
	rel, err := s.clean(target)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", models.NewInternalError(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", models.NewInternalError(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, io.LimitReader(r, MaxObjectBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", models.NewInternalError(err)
	}
	if n > MaxObjectBytes {
		return "", models.NewValidationError(errTooLarge.Error())
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", models.NewInternalError(err)
	}

	middleware.Logger.InfoContext(ctx, "object stored", "path", rel, "bytes", n)
	return s.ref(rel), nil
}

// Delete removes the object behind ref. Missing objects are not an error.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	rel, err := s.clean(strings.TrimPrefix(strings.TrimPrefix(ref, s.baseURL), "/"))
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
		return models.NewInternalError(err)
	}
	return nil
}

func (s *LocalStore) ref(rel string) string {
	if s.baseURL == "" {
		return "/" + rel
	}
	u, err := url.JoinPath(s.baseURL, rel)
	if err != nil {
		return s.baseURL + "/" + rel
	}
	return u
}

// clean rejects empty targets and targets escaping the root.
func (s *LocalStore) clean(target string) (string, error) {
	rel := strings.TrimPrefix(path.Clean(strings.ReplaceAll(target, "\\", "/")), "/")
	if rel == "" || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", models.NewValidationError("invalid object path")
	}
	return rel, nil
}
