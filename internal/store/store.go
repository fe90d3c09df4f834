// Package store persists report CSVs between the pre-patch and post-patch
// phases, in S3 for real runs or in a local directory for dry runs.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	awsx "github.com/patchwatch/patchwatch/internal/aws"
	"github.com/patchwatch/patchwatch/internal/core"
)

// ErrNotFound is returned by Get when key holds no object.
var ErrNotFound = errors.New("report not found")

// Store reads and writes report objects by key.
type Store interface {
	// Put writes data under key and returns a location string for logs.
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

const contentTypeCSV = "text/csv"

// ObjectAPI is the S3 surface S3Store needs. *aws.ClientFactory implements it.
type ObjectAPI interface {
	PutObject(ctx context.Context, sess *core.Session, bucket, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, sess *core.Session, bucket, key string) ([]byte, error)
}

// S3Store keeps reports in one bucket of the shared account.
type S3Store struct {
	api    ObjectAPI
	sess   *core.Session
	bucket string
}

// NewS3Store binds a bucket to the shared-account session.
func NewS3Store(api ObjectAPI, sess *core.Session, bucket string) *S3Store {
	return &S3Store{api: api, sess: sess, bucket: bucket}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := s.api.PutObject(ctx, s.sess, s.bucket, key, data, contentTypeCSV); err != nil {
		return "", fmt.Errorf("writing s3://%s/%s: %w", s.bucket, key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.api.GetObject(ctx, s.sess, s.bucket, key)
	if errors.Is(err, awsx.ErrObjectNotFound) {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// FileStore keeps reports as files under a root directory, mirroring the key
// layout. Put returns the path suffixed with the content's SHA-256.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid report key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return "", fmt.Errorf("ensuring report directory: %w", err)
	}

	// Write to a temp file then rename so readers never see a partial report.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("writing report file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("moving report file into place: %w", err)
	}

	return p + "#sha256:" + ContentHash(data), nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading report file: %w", err)
	}
	return data, nil
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
