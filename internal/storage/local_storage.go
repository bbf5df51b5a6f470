package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
)

const (
	ResultSuffix    = "-scan.txt"
	timestampLayout = "20060102150405"

	tempPrefix = ".scan_"
	tempSuffix = ".txt.tmp"
	// A temp file this old belongs to a save that never reached its rename.
	staleTempAge = time.Hour
)

var ErrInvalidName = errors.New("not a scan result file name")

// Clock supplies the capture time used to name result files.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ResultFile describes one saved result as found on disk.
type ResultFile struct {
	Name       string
	Path       string
	CapturedAt time.Time
	Size       int64
}

// LocalStorage writes one plain-text file per scan into a flat results
// directory. Files are named by capture time; nothing is ever deleted here.
type LocalStorage struct {
	baseDir string
	logger  logrus.FieldLogger
	clock   Clock
	mu      sync.Mutex
}

func NewLocalStorage(baseDir string, logger logrus.FieldLogger) *LocalStorage {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LocalStorage{
		baseDir: baseDir,
		logger:  logger,
		clock:   SystemClock{},
	}
}

// WithClock replaces the clock used for file names.
func (ls *LocalStorage) WithClock(c Clock) *LocalStorage {
	ls.clock = c
	return ls
}

func (ls *LocalStorage) Dir() string { return ls.baseDir }

// FileName formats t as YYYYMMDDHHMMSSmmm followed by ResultSuffix.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s%03d%s", t.Format(timestampLayout), t.Nanosecond()/int(time.Millisecond), ResultSuffix)
}

// ParseFileName recovers the capture time encoded by FileName, in local time.
func ParseFileName(name string) (time.Time, error) {
	stamp, ok := strings.CutSuffix(name, ResultSuffix)
	if !ok || len(stamp) != len(timestampLayout)+3 {
		return time.Time{}, ErrInvalidName
	}
	base, err := time.ParseInLocation(timestampLayout, stamp[:len(timestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, ErrInvalidName
	}
	ms, err := strconv.Atoi(stamp[len(timestampLayout):])
	if err != nil {
		return time.Time{}, ErrInvalidName
	}
	return base.Add(time.Duration(ms) * time.Millisecond), nil
}

// SaveResult writes content verbatim and returns the file path. A second save
// within the same millisecond replaces the first file.
func (ls *LocalStorage) SaveResult(content string) (string, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := os.MkdirAll(ls.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	finalPath := filepath.Join(ls.baseDir, FileName(ls.clock.Now()))

	tmpFile, err := os.CreateTemp(ls.baseDir, tempPrefix+"*"+tempSuffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("write result: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpFile.Name(), 0o644); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), finalPath); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("atomic rename: %w", err)
	}

	ls.logger.WithFields(logrus.Fields{
		"path":  finalPath,
		"bytes": len(content),
		"xxh3":  Digest(content),
	}).Debug("Result file written")
	return finalPath, nil
}

// ListResults returns the result files in the directory, newest first.
// A missing directory is not an error. Temp files left behind by an
// interrupted save are removed once they are older than staleTempAge.
func (ls *LocalStorage) ListResults() ([]ResultFile, error) {
	entries, err := os.ReadDir(ls.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results directory: %w", err)
	}

	results := make([]ResultFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isTempName(e.Name()) {
			ls.removeStaleTemp(e)
			continue
		}
		captured, err := ParseFileName(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			ls.logger.Warnf("Failed to stat %s: %v", e.Name(), err)
			continue
		}
		results = append(results, ResultFile{
			Name:       e.Name(),
			Path:       filepath.Join(ls.baseDir, e.Name()),
			CapturedAt: captured,
			Size:       info.Size(),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CapturedAt.After(results[j].CapturedAt)
	})
	return results, nil
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

func (ls *LocalStorage) removeStaleTemp(e os.DirEntry) {
	info, err := e.Info()
	if err != nil || time.Since(info.ModTime()) < staleTempAge {
		return
	}
	path := filepath.Join(ls.baseDir, e.Name())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		ls.logger.Warnf("Failed to remove stale temp file %s: %v", path, err)
		return
	}
	ls.logger.WithField("path", path).Debug("Removed stale temp file")
}

// LoadResult reads a result file by its bare name; paths are rejected.
func (ls *LocalStorage) LoadResult(name string) (string, error) {
	if _, err := ParseFileName(filepath.Base(name)); err != nil || filepath.Base(name) != name {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	data, err := os.ReadFile(filepath.Join(ls.baseDir, name))
	if err != nil {
		return "", fmt.Errorf("read result file: %w", err)
	}
	return string(data), nil
}

// Digest is the xxh3 hash of content in hex.
func Digest(content string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(content))
}
