// Package archive exports transfer-store intervals as zstd-compressed JSONL
// batches and removes exactly the exported records.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/worktrace/internal/models"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Extension is the file suffix of interval archives.
const Extension = ".jsonl.zst"

var (
	// ErrEmpty is returned by Export when there is nothing to archive.
	ErrEmpty = errors.New("no intervals to export")

	// ErrExists is returned by Write when the archive file already exists.
	ErrExists = errors.New("archive already exists")
)

// Source is the store an export drains.
type Source interface {
	ReadAll(ctx context.Context) ([]models.Interval, error)
	RemoveMany(ctx context.Context, intervals []models.Interval) (int, error)
}

// Result describes a finished export.
type Result struct {
	Path    string `json:"path"`
	Count   int    `json:"count"`
	Removed int    `json:"removed"`
}

// ArchivePath returns archiveDir/intervals-{timestamp}-{batch}.jsonl.zst
// with a nanosecond timestamp.
func ArchivePath(archiveDir, batch string, at time.Time) string {
	name := fmt.Sprintf("intervals-%s-%s%s", at.UTC().Format("20060102T150405.000000000Z"), batch, Extension)
	return filepath.Join(archiveDir, name)
}

// Write compresses intervals into path, one JSON object per line. The file
// appears only once it is complete, and an existing file is never replaced.
func Write(path string, intervals []models.Interval) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	dest, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	tmp := dest.Name()
	defer os.Remove(tmp)

	encoder, err := zstd.NewWriter(dest)
	if err != nil {
		dest.Close()
		return fmt.Errorf("create zstd encoder: %w", err)
	}

	buf := bufio.NewWriter(encoder)
	enc := json.NewEncoder(buf)
	for i := range intervals {
		if err := enc.Encode(&intervals[i]); err != nil {
			encoder.Close()
			dest.Close()
			return fmt.Errorf("encode interval %s: %w", intervals[i].ID, err)
		}
	}
	if err := buf.Flush(); err != nil {
		encoder.Close()
		dest.Close()
		return fmt.Errorf("compress: %w", err)
	}
	if err := encoder.Close(); err != nil {
		dest.Close()
		return fmt.Errorf("finalize compression: %w", err)
	}
	if err := dest.Sync(); err != nil {
		dest.Close()
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("publish archive: %w", err)
	}
	return nil
}

// Read decompresses an archive written by Write.
func Read(path string) ([]models.Interval, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	decoder, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	var intervals []models.Interval
	dec := json.NewDecoder(decoder)
	for dec.More() {
		var iv models.Interval
		if err := dec.Decode(&iv); err != nil {
			return nil, fmt.Errorf("decode interval: %w", err)
		}
		intervals = append(intervals, iv)
	}
	return intervals, nil
}

// Export writes every interval in src to a new archive under archiveDir and
// then removes exactly those intervals from src. Every call gets its own
// archive file, even for the same batch and instant. Callers serialize
// exports of the same source.
func Export(ctx context.Context, src Source, archiveDir, batch string, at time.Time) (*Result, error) {
	intervals, err := src.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read intervals: %w", err)
	}
	if len(intervals) == 0 {
		return nil, ErrEmpty
	}

	path := ArchivePath(archiveDir, batch+"-"+uuid.New().String()[:8], at)
	if err := Write(path, intervals); err != nil {
		return nil, err
	}

	removed, err := src.RemoveMany(ctx, intervals)
	if err != nil {
		return &Result{Path: path, Count: len(intervals)}, fmt.Errorf("remove exported intervals: %w", err)
	}
	return &Result{Path: path, Count: len(intervals), Removed: removed}, nil
}

// List returns the archives in archiveDir, oldest first.
func List(archiveDir string) ([]string, error) {
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), Extension) {
			paths = append(paths, filepath.Join(archiveDir, e.Name()))
		}
	}
	return paths, nil
}

// Info describes one archive on disk.
type Info struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// Inspect lists the archives in archiveDir with their interval counts.
func Inspect(archiveDir string) ([]Info, error) {
	paths, err := List(archiveDir)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(paths))
	for _, path := range paths {
		intervals, err := Read(path)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", filepath.Base(path), err)
		}
		infos = append(infos, Info{Path: path, Count: len(intervals)})
	}
	return infos, nil
}
