package repository

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"gavel/internal/common/cache"
	"gavel/internal/common/storage"
	"gavel/internal/judge/model"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"
)

const (
	datapackLockPrefix = "datapack:lock:"
	datapackLockTTL    = 2 * time.Minute
	datapackWaitPoll   = 200 * time.Millisecond
	datapackWaitMax    = 90 * time.Second

	// completeMarker flags a fully extracted pack; a directory without it
	// is a half-finished download and gets redone.
	completeMarker = ".complete"

	maxPackFileBytes = 256 << 20
)

// DataPackCache materializes zstd-compressed tar archives of test data
// from object storage onto the local disk, one directory per content
// hash. Concurrent workers coordinate through a Redis lock so a pack is
// downloaded once per host.
type DataPackCache struct {
	storage storage.ObjectStorage
	cache   cache.Cache
	rootDir string
}

// NewDataPackCache creates a cache rooted at rootDir.
func NewDataPackCache(objectStorage storage.ObjectStorage, cacheClient cache.Cache, rootDir string) *DataPackCache {
	return &DataPackCache{storage: objectStorage, cache: cacheClient, rootDir: rootDir}
}

// Ensure returns the local directory holding the extracted pack,
// downloading and extracting it first if needed.
func (c *DataPackCache) Ensure(ctx context.Context, ref *model.DataPackRef) (string, error) {
	if ref == nil || ref.ObjectKey == "" || ref.SHA256 == "" {
		return "", appErr.New(appErr.DataPackError).WithMessage("data pack reference is incomplete")
	}
	dir := filepath.Join(c.rootDir, ref.SHA256)
	if c.isComplete(dir) {
		return dir, nil
	}

	lockKey := datapackLockPrefix + ref.SHA256
	acquired, err := c.cache.TryLock(ctx, lockKey, datapackLockTTL)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "acquire data pack lock")
	}
	if !acquired {
		// Another worker is extracting the same pack; wait for it.
		return c.waitForComplete(ctx, dir)
	}
	defer func() {
		if unlockErr := c.cache.Unlock(ctx, lockKey); unlockErr != nil {
			logger.Warn(ctx, "release data pack lock failed",
				zap.String("sha256", ref.SHA256), zap.Error(unlockErr))
		}
	}()

	// Re-check under the lock; the previous holder may have finished.
	if c.isComplete(dir) {
		return dir, nil
	}
	if err := c.fetchAndExtract(ctx, ref, dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

func (c *DataPackCache) isComplete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, completeMarker))
	return err == nil
}

func (c *DataPackCache) waitForComplete(ctx context.Context, dir string) (string, error) {
	deadline := time.Now().Add(datapackWaitMax)
	ticker := time.NewTicker(datapackWaitPoll)
	defer ticker.Stop()
	for {
		if c.isComplete(dir) {
			return dir, nil
		}
		if time.Now().After(deadline) {
			return "", appErr.New(appErr.DataPackError).WithMessage("timed out waiting for data pack extraction")
		}
		select {
		case <-ctx.Done():
			return "", appErr.Wrap(ctx.Err(), appErr.Timeout)
		case <-ticker.C:
		}
	}
}

func (c *DataPackCache) fetchAndExtract(ctx context.Context, ref *model.DataPackRef, dir string) error {
	reader, err := c.storage.GetObject(ctx, ref.Bucket, ref.ObjectKey)
	if err != nil {
		return appErr.Wrapf(err, appErr.DataPackError, "fetch data pack %s", ref.ObjectKey)
	}
	defer reader.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.DataPackError, "create pack directory")
	}

	// Hash the compressed stream while extracting so a corrupt download
	// is detected without a second pass.
	hasher := sha256.New()
	decoder, err := zstd.NewReader(io.TeeReader(reader, hasher))
	if err != nil {
		return appErr.Wrapf(err, appErr.DataPackError, "open zstd stream")
	}
	defer decoder.Close()

	if err := extractTar(tar.NewReader(decoder), dir); err != nil {
		return err
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(sum, ref.SHA256) {
		return appErr.Newf(appErr.DataPackError, "data pack checksum mismatch: want %s got %s", ref.SHA256, sum)
	}

	marker, err := os.Create(filepath.Join(dir, completeMarker))
	if err != nil {
		return appErr.Wrapf(err, appErr.DataPackError, "write completion marker")
	}
	return marker.Close()
}

func extractTar(tr *tar.Reader, dir string) error {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DataPackError, "read tar entry")
		}
		target, err := safeJoin(dir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrapf(err, appErr.DataPackError, "create directory %s", header.Name)
			}
		case tar.TypeReg:
			if header.Size > maxPackFileBytes {
				return appErr.Newf(appErr.DataPackError, "pack file %s exceeds size cap", header.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return appErr.Wrapf(err, appErr.DataPackError, "create parent of %s", header.Name)
			}
			if err := writeFileLimited(target, tr, header.Size); err != nil {
				return appErr.Wrapf(err, appErr.DataPackError, "extract %s", header.Name)
			}
		default:
			// Symlinks and devices have no business in a test data pack.
			return appErr.Newf(appErr.DataPackError, "unsupported tar entry type for %s", header.Name)
		}
	}
}

// safeJoin rejects entries that would escape the extraction root.
func safeJoin(dir, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", appErr.Newf(appErr.DataPackError, "tar entry %s escapes pack root", name)
	}
	return filepath.Join(dir, cleaned), nil
}

func writeFileLimited(target string, r io.Reader, size int64) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, io.LimitReader(r, size)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
