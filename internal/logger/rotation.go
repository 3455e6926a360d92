package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to a log file and moves it aside once it reaches maxSize.
type RotatingWriter struct {
	mu       sync.Mutex
	filename string
	maxSize  int64
	maxAge   int
	compress bool
	file     *os.File
	size     int64
	now      func() time.Time
}

// NewRotatingWriter opens filename for appending.
func NewRotatingWriter(filename string, maxSizeMB int, maxAge int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		filename: filename,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		maxAge:   maxAge,
		compress: compress,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	go w.cleanup()
	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file over the limit.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.maxSize > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current log file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := w.rotatedName()
	if err := os.Rename(w.filename, rotated); err != nil {
		return err
	}
	if w.compress {
		go compressFile(rotated)
	}
	return w.open()
}

// rotatedName picks filename.<timestamp>, adding a counter when several rotations land in one second.
func (w *RotatingWriter) rotatedName() string {
	base := fmt.Sprintf("%s.%s", w.filename, w.now().Format("20060102-150405"))
	name := base
	for i := 2; exists(name) || exists(name+".gz"); i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return name
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

// cleanup removes rotated files older than maxAge days.
func (w *RotatingWriter) cleanup() {
	if w.maxAge <= 0 {
		return
	}

	files, err := filepath.Glob(w.filename + ".*")
	if err != nil {
		return
	}

	cutoff := w.now().AddDate(0, 0, -w.maxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(file)
		if !strings.HasSuffix(file, ".gz") {
			os.Remove(file + ".gz")
		}
	}
}
