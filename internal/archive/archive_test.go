package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/worktrace/internal/models"
	"github.com/fentz26/worktrace/internal/store"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func closed(id string, start time.Time) *models.Interval {
	iv := models.NewInterval(id, models.IntervalReading, start)
	iv.Editor = "Main.java"
	iv.Close(start.Add(time.Minute))
	return iv
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch"+Extension)
	original := []models.Interval{*closed("a", base), *closed("b", base.Add(time.Hour))}

	if err := Write(path, original); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].Editor != "Main.java" {
		t.Errorf("Unexpected round trip: %+v", got)
	}
}

func TestArchivePath(t *testing.T) {
	got := ArchivePath("/data/archive", "seed", base)
	want := filepath.Join("/data/archive", "intervals-20260301T090000.000000000Z-seed.jsonl.zst")
	if got != want {
		t.Errorf("ArchivePath = %q, want %q", got, want)
	}
}

func TestExportDrainsStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "transfer.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for i, id := range []string{"x", "y", "z"} {
		if err := s.Append(ctx, closed(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	archiveDir := filepath.Join(t.TempDir(), "archive")
	result, err := Export(ctx, s, archiveDir, "batch", base)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.Count != 3 || result.Removed != 3 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if size, _ := s.Size(ctx); size != 0 {
		t.Errorf("Expected empty store after export, got %d", size)
	}

	archived, err := Read(result.Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(archived) != 3 || archived[0].ID != "x" {
		t.Errorf("Unexpected archive contents: %+v", archived)
	}

	paths, err := List(archiveDir)
	if err != nil || len(paths) != 1 {
		t.Errorf("Expected one archive, got %v (%v)", paths, err)
	}

	if _, err := Export(ctx, s, archiveDir, "again", base); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected ErrEmpty, got %v", err)
	}
}

func TestListMissingDir(t *testing.T) {
	paths, err := List(filepath.Join(t.TempDir(), "missing"))
	if err != nil || len(paths) != 0 {
		t.Errorf("Expected no archives, got %v (%v)", paths, err)
	}
}

func TestWriteRefusesToReplaceArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch"+Extension)
	if err := Write(path, []models.Interval{*closed("first", base)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	err := Write(path, []models.Interval{*closed("second", base)})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("Expected ErrExists, got %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || got[0].ID != "first" {
		t.Errorf("Existing archive was modified: %+v", got)
	}
	if paths, _ := List(filepath.Dir(path)); len(paths) != 1 {
		t.Errorf("Temporary files left behind: %v", paths)
	}
}

func TestExportTwiceAtSameInstantKeepsBoth(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "transfer.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	archiveDir := filepath.Join(t.TempDir(), "archive")

	var results []*Result
	for _, id := range []string{"first", "second"} {
		if err := s.Append(ctx, closed(id, base)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		result, err := Export(ctx, s, archiveDir, "seed", base)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		results = append(results, result)
	}

	if results[0].Path == results[1].Path {
		t.Fatalf("Both exports wrote %s", results[0].Path)
	}

	infos, err := Inspect(archiveDir)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	archived := 0
	for _, info := range infos {
		archived += info.Count
	}
	if len(infos) != 2 || archived != 2 {
		t.Errorf("Expected 2 archives holding 2 intervals, got %+v", infos)
	}
	if size, _ := s.Size(ctx); size != 0 {
		t.Errorf("Expected empty store, got %d", size)
	}
}
