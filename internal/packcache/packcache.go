// Package packcache materializes problem test data packs on local disk.
// Packs are fetched from object storage as zstd-compressed tarballs and
// extracted once; concurrent workers coordinate through a distributed
// lock so each pack is downloaded by exactly one of them.
package packcache

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"chainjudge/internal/common/cache"
	"chainjudge/internal/common/storage"
	appErr "chainjudge/pkg/errors"
)

const (
	tempFileName  = "pack.tmp"
	lockKeyPrefix = "judge:pack:lock:"
	lockToken     = "packcache"
)

type cacheEntry struct {
	key       string
	path      string
	sizeBytes int64
	expiresAt time.Time

	// refs counts workers currently judging inside the pack directory.
	// Entries with live references are never evicted or expired.
	refs int
}

// PackCache manages local pack extraction and eviction.
type PackCache struct {
	rootDir    string
	localDir   string
	ttl        time.Duration
	lockWait   time.Duration
	maxEntries int
	maxBytes   int64
	bucket     string
	storage    storage.ObjectStorage
	lock       cache.LockOps

	mu        sync.Mutex
	entries   map[string]*cacheEntry
	lruKeys   []string
	totalSize int64
}

// Config collects pack cache settings.
type Config struct {
	RootDir    string        `yaml:"rootDir"`
	LocalDir   string        `yaml:"localDir"`
	Bucket     string        `yaml:"bucket"`
	TTL        time.Duration `yaml:"ttl"`
	LockWait   time.Duration `yaml:"lockWait"`
	MaxEntries int           `yaml:"maxEntries"`
	MaxBytes   int64         `yaml:"maxBytes"`
}

// New creates a pack cache. localDir, when set, is checked before object
// storage so operators can stage packs straight onto the judge host.
func New(cfg Config, storageClient storage.ObjectStorage, lock cache.LockOps) *PackCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 64
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &PackCache{
		rootDir:    cfg.RootDir,
		localDir:   cfg.LocalDir,
		ttl:        cfg.TTL,
		lockWait:   cfg.LockWait,
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		bucket:     cfg.Bucket,
		storage:    storageClient,
		lock:       lock,
		entries:    make(map[string]*cacheEntry),
	}
}

// Get returns a local directory containing the extracted pack for a
// problem. dataPath is the problem's configured pack location: either a
// directory (used as-is) or an object key. The returned directory is
// pinned against eviction until Release is called with the same
// problem ID.
func (c *PackCache) Get(ctx context.Context, problemID, dataPath string) (string, error) {
	if problemID == "" {
		return "", appErr.ValidationError("problem_id", "required")
	}

	// Directory paths short-circuit the cache entirely.
	if dataPath != "" {
		if info, err := os.Stat(dataPath); err == nil && info.IsDir() {
			return dataPath, nil
		}
	}
	if c.localDir != "" {
		local := filepath.Join(c.localDir, problemID)
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			return local, nil
		}
	}

	if c.storage == nil {
		return "", appErr.Newf(appErr.TestDataMissing, "no local pack for problem %s and storage is not configured", problemID)
	}
	if c.rootDir == "" {
		return "", appErr.New(appErr.CacheError).WithMessage("pack cache root is not configured")
	}

	objectKey := dataPath
	if objectKey == "" {
		objectKey = fmt.Sprintf("packs/%s.tar.zst", problemID)
	}
	path := filepath.Join(c.rootDir, problemID)

	if c.hitEntry(problemID) {
		return path, nil
	}
	if c.checkDisk(path) {
		c.addEntry(problemID, path)
		return path, nil
	}
	if err := c.fetchAndExtract(ctx, problemID, objectKey, path); err != nil {
		return "", err
	}
	c.addEntry(problemID, path)
	return path, nil
}

// Release drops one pin on a pack taken by Get. Unknown keys, such as
// directory passthrough paths that never entered the cache, are
// ignored.
func (c *PackCache) Release(problemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[problemID]
	if !ok {
		return
	}
	if entry.refs > 0 {
		entry.refs--
	}
}

func (c *PackCache) hitEntry(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if entry.refs == 0 && time.Now().After(entry.expiresAt) {
		c.removeEntryLocked(key)
		return false
	}
	entry.expiresAt = time.Now().Add(c.ttl)
	entry.refs++
	c.touchLocked(key)
	return true
}

func (c *PackCache) checkDisk(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(path, "problem.yml"))
	return err == nil
}

func (c *PackCache) fetchAndExtract(ctx context.Context, problemID, objectKey, path string) error {
	if c.lock == nil {
		return appErr.New(appErr.CacheError).WithMessage("lock client is not initialized")
	}
	lockKey := lockKeyPrefix + problemID
	locked, err := c.lock.AcquireLock(ctx, lockKey, lockToken, 5*time.Minute)
	if err != nil {
		return appErr.Wrapf(err, appErr.LockFailed, "acquire pack lock failed")
	}
	if !locked {
		return c.waitForCache(ctx, path)
	}
	defer func() {
		_, _ = c.lock.ReleaseLock(ctx, lockKey, lockToken)
	}()

	if c.checkDisk(path) {
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cleanup pack dir failed")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create pack dir failed")
	}

	tempPath := filepath.Join(path, tempFileName)
	if err := c.download(ctx, objectKey, tempPath); err != nil {
		_ = os.RemoveAll(path)
		return err
	}
	if err := extractPack(tempPath, path); err != nil {
		_ = os.RemoveAll(path)
		return err
	}
	_ = os.Remove(tempPath)
	return nil
}

func (c *PackCache) waitForCache(ctx context.Context, path string) error {
	deadline := time.Now().Add(c.lockWait)
	for {
		if c.checkDisk(path) {
			return nil
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for pack cache timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (c *PackCache) download(ctx context.Context, objectKey, dstPath string) error {
	reader, err := c.storage.GetObject(ctx, c.bucket, objectKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return appErr.Wrapf(err, appErr.TestDataMissing, "pack object %s not found", objectKey)
		}
		return appErr.Wrapf(err, appErr.PackFetchFailed, "download pack failed")
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create pack file failed")
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		if storage.IsNotFound(err) {
			return appErr.Wrapf(err, appErr.TestDataMissing, "pack object %s not found", objectKey)
		}
		return appErr.Wrapf(err, appErr.PackFetchFailed, "write pack file failed")
	}
	return nil
}

func extractPack(srcPath, dstDir string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "open pack failed")
	}
	defer file.Close()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.PackFetchFailed, "create zstd reader failed")
	}
	defer zstdReader.Close()

	tr := tar.NewReader(zstdReader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.PackFetchFailed, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		cleanName := filepath.Clean(hdr.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return appErr.New(appErr.PackFetchFailed).WithMessage("invalid tar entry path")
		}
		target := filepath.Join(dstDir, cleanName)
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(filepath.Separator)) {
			return appErr.New(appErr.PackFetchFailed).WithMessage("tar entry escape detected")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create parent dir failed")
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode))
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create file failed")
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return appErr.Wrapf(err, appErr.CacheError, "write file failed")
			}
			_ = out.Close()
		default:
			// skip other types
		}
	}
	return nil
}

func (c *PackCache) addEntry(key, path string) {
	size := dirSize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	refs := 1
	if existing, ok := c.entries[key]; ok {
		c.totalSize -= existing.sizeBytes
		refs = existing.refs + 1
	}
	c.entries[key] = &cacheEntry{
		key:       key,
		path:      path,
		sizeBytes: size,
		expiresAt: time.Now().Add(c.ttl),
		refs:      refs,
	}
	c.totalSize += size
	c.touchLocked(key)
	c.evictLocked()
}

func (c *PackCache) touchLocked(key string) {
	for i, k := range c.lruKeys {
		if k == key {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.lruKeys = append(c.lruKeys, key)
}

func (c *PackCache) evictLocked() {
	for {
		if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
			if !c.removeOldestLocked() {
				return
			}
			continue
		}
		if c.maxBytes > 0 && c.totalSize > c.maxBytes {
			if !c.removeOldestLocked() {
				return
			}
			continue
		}
		break
	}
}

// removeOldestLocked evicts the least recently used unpinned entry. It
// reports false when every entry is pinned, which leaves the cache
// temporarily over its limits rather than pulling a pack out from
// under a running judge.
func (c *PackCache) removeOldestLocked() bool {
	for i, key := range c.lruKeys {
		entry, ok := c.entries[key]
		if ok && entry.refs > 0 {
			continue
		}
		c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
		c.removeEntryLocked(key)
		return true
	}
	return false
}

func (c *PackCache) removeEntryLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.totalSize -= entry.sizeBytes
	_ = os.RemoveAll(entry.path)
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
