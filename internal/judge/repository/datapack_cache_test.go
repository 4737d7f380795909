package repository_test

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"gavel/internal/common/storage"
	"gavel/internal/judge/model"
	"gavel/internal/judge/repository"
	appErr "gavel/pkg/errors"
)

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) GetObject(ctx context.Context, bucket, key string) (storage.ObjectReader, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, appErr.Newf(appErr.NotFound, "object %s not found", key)
	}
	return readCloser{bytes.NewReader(data)}, nil
}

func (f *fakeStorage) PutObject(ctx context.Context, bucket, key string, reader storage.ObjectReader, size int64, contentType string) error {
	return nil
}

func (f *fakeStorage) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, appErr.Newf(appErr.NotFound, "object %s not found", key)
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

type readCloser struct{ *bytes.Reader }

func (readCloser) Close() error { return nil }

// packArchive builds a zstd-compressed tar from the given files and
// returns the bytes plus their sha256 hex digest.
func packArchive(t *testing.T, files map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

func TestDataPackEnsureExtracts(t *testing.T) {
	data, sum := packArchive(t, map[string]string{
		"case1.in":       "1 2\n",
		"case1.out":      "3\n",
		"deep/case2.in":  "4 5\n",
		"deep/case2.out": "9\n",
	})
	store := &fakeStorage{objects: map[string][]byte{"packs/p1.tar.zst": data}}
	dc := repository.NewDataPackCache(store, newTestCache(t), t.TempDir())

	ref := &model.DataPackRef{Bucket: "packs", ObjectKey: "p1.tar.zst", SHA256: sum}
	dir, err := dc.Ensure(context.Background(), ref)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "deep", "case2.out"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(got) != "9\n" {
		t.Fatalf("expected %q, got %q", "9\n", got)
	}

	// Second call must hit the local copy without re-downloading.
	store.objects = nil
	if _, err := dc.Ensure(context.Background(), ref); err != nil {
		t.Fatalf("ensure from local cache: %v", err)
	}
}

func TestDataPackChecksumMismatch(t *testing.T) {
	data, _ := packArchive(t, map[string]string{"case1.in": "x\n"})
	store := &fakeStorage{objects: map[string][]byte{"packs/p1.tar.zst": data}}
	dc := repository.NewDataPackCache(store, newTestCache(t), t.TempDir())

	ref := &model.DataPackRef{Bucket: "packs", ObjectKey: "p1.tar.zst", SHA256: "deadbeef"}
	if _, err := dc.Ensure(context.Background(), ref); !appErr.Is(err, appErr.DataPackError) {
		t.Fatalf("expected DataPackError, got %v", err)
	}
}

func TestDataPackRejectsEscapingEntry(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	hdr := &tar.Header{Name: "../evil.txt", Mode: 0o644, Size: 4, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	tw.Write([]byte("boom"))
	tw.Close()
	zw.Close()
	sum := sha256.Sum256(buf.Bytes())

	store := &fakeStorage{objects: map[string][]byte{"packs/evil.tar.zst": buf.Bytes()}}
	root := t.TempDir()
	dc := repository.NewDataPackCache(store, newTestCache(t), root)

	ref := &model.DataPackRef{Bucket: "packs", ObjectKey: "evil.tar.zst", SHA256: hex.EncodeToString(sum[:])}
	if _, err := dc.Ensure(context.Background(), ref); !appErr.Is(err, appErr.DataPackError) {
		t.Fatalf("expected DataPackError, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "evil.txt")); err == nil {
		t.Fatal("escaping entry was written outside the pack root")
	}
}

func TestDataPackIncompleteRef(t *testing.T) {
	dc := repository.NewDataPackCache(&fakeStorage{}, newTestCache(t), t.TempDir())
	if _, err := dc.Ensure(context.Background(), &model.DataPackRef{}); !appErr.Is(err, appErr.DataPackError) {
		t.Fatalf("expected DataPackError, got %v", err)
	}
}
