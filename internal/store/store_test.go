package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	awsx "github.com/patchwatch/patchwatch/internal/aws"
	"github.com/patchwatch/patchwatch/internal/core"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()
	data := []byte("AccountId,Region\n1,us-east-1\n")

	loc, err := s.Put(ctx, "pre_patch_notification/out.csv", data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasSuffix(loc, "#sha256:"+ContentHash(data)) {
		t.Errorf("location %q lacks content hash", loc)
	}

	got, err := s.Get(ctx, "pre_patch_notification/out.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q", got)
	}

	// Overwrite replaces content.
	s.Put(ctx, "pre_patch_notification/out.csv", []byte("x"))
	got, _ = s.Get(ctx, "pre_patch_notification/out.csv")
	if string(got) != "x" {
		t.Errorf("expected overwrite, got %q", got)
	}
}

func TestFileStoreNotFound(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if _, err := s.Get(context.Background(), "missing.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for _, key := range []string{"../evil.csv", "/etc/passwd", "", "a/../../b"} {
		if _, err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("key %q should be rejected", key)
		}
	}
}

func TestContentHashStable(t *testing.T) {
	if ContentHash([]byte("a")) != ContentHash([]byte("a")) {
		t.Fatal("hash must be deterministic")
	}
	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Fatal("different content must hash differently")
	}
}

type fakeObjects struct {
	objects map[string][]byte
	sess    *core.Session
	putErr  error
}

func (f *fakeObjects) PutObject(ctx context.Context, sess *core.Session, bucket, key string, body []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.sess = sess
	f.objects[bucket+"/"+key] = body
	return nil
}

func (f *fakeObjects) GetObject(ctx context.Context, sess *core.Session, bucket, key string) ([]byte, error) {
	f.sess = sess
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, awsx.ErrObjectNotFound
	}
	return data, nil
}

func TestS3Store(t *testing.T) {
	api := &fakeObjects{objects: map[string][]byte{}}
	sess := &core.Session{Account: core.AccountContext{AccountID: "999999999999", RoleName: "ReportRole", Region: "us-east-1"}}
	s := NewS3Store(api, sess, "reports")
	ctx := context.Background()

	loc, err := s.Put(ctx, "k.csv", []byte("data"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if loc != "s3://reports/k.csv" {
		t.Errorf("location = %q", loc)
	}
	if api.sess != sess {
		t.Error("store must use the shared session")
	}

	if got, err := s.Get(ctx, "k.csv"); err != nil || string(got) != "data" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if _, err := s.Get(ctx, "missing.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	api.putErr = errors.New("access denied")
	if _, err := s.Put(ctx, "k.csv", nil); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped put error, got %v", err)
	}
}
