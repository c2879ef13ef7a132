package debug

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFrameDumperDisabledByDefault(t *testing.T) {
	dir := t.TempDir()
	fd := NewFrameDumper(dir)

	var buf [256 * 240]uint32
	if err := fd.DumpFrameBuffer(buf, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files written while disabled, got %d", len(entries))
	}
}

func TestFrameDumperWritesFileWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	fd := NewFrameDumper(dir)
	fd.Enable()

	var buf [256 * 240]uint32
	buf[0] = 0xFF0000

	if err := fd.DumpFrameBuffer(buf, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one dump file, got %d", len(entries))
	}

	contents, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read dump file: %v", err)
	}
	if len(contents) == 0 {
		t.Fatal("expected non-empty dump file")
	}
}

func TestFrameDumperRespectsMaxDumps(t *testing.T) {
	dir := t.TempDir()
	fd := NewFrameDumper(dir)
	fd.Enable()
	fd.SetMaxDumps(2)

	var buf [256 * 240]uint32
	for i := uint64(0); i < 5; i++ {
		if err := fd.DumpFrameBuffer(buf, i); err != nil {
			t.Fatalf("unexpected error on frame %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly 2 dump files after max reached, got %d", len(entries))
	}
}

func TestFrameDumperRespectsDumpInterval(t *testing.T) {
	dir := t.TempDir()
	fd := NewFrameDumper(dir)
	fd.Enable()
	fd.SetDumpInterval(2)
	fd.SetMaxDumps(100)

	var buf [256 * 240]uint32
	for i := uint64(0); i < 4; i++ {
		if err := fd.DumpFrameBuffer(buf, i); err != nil {
			t.Fatalf("unexpected error on frame %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected dumps only for even frame numbers (0, 2), got %d files", len(entries))
	}
}

func TestRegionFilterRestrictsPixels(t *testing.T) {
	filter := CreateRegionFilter(10, 10, 20, 20)

	if !filter(15, 15, 0x123456) {
		t.Error("expected pixel inside region to pass filter")
	}
	if filter(0, 0, 0x123456) {
		t.Error("expected pixel outside region to be rejected")
	}
}

func TestColorRangeFilterRestrictsPixels(t *testing.T) {
	filter := CreateColorRangeFilter(0x100000, 0x200000)

	if !filter(0, 0, 0x150000) {
		t.Error("expected color within range to pass filter")
	}
	if filter(0, 0, 0x300000) {
		t.Error("expected color outside range to be rejected")
	}
}
