package index

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func rec(videoRel string, segIdx int, created time.Time) Record {
	return Record{
		VideoRel:      videoRel,
		SegIdx:        segIdx,
		Date:          DateFromRel(videoRel),
		VideoStem:     strings.TrimSuffix(filepath.Base(videoRel), filepath.Ext(videoRel)),
		Lang:          "en",
		Conf:          0.9,
		TextTruncated: "hello",
		FullTextRef:   videoRel + ".json",
		CreatedUTC:    created,
	}
}

func writeShard(t *testing.T, dir string, workerID int, recs ...Record) {
	t.Helper()
	sw, err := NewShardWriter(dir, workerID)
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	for _, r := range recs {
		if err := sw.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := sw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestShardHeaderWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)

	writeShard(t, dir, 0, rec("a.mp4", 0, now))
	// Reopen and append: the header must not repeat.
	writeShard(t, dir, 0, rec("a.mp4", 1, now))

	data, err := os.ReadFile(ShardPath(dir, 0))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "video_rel,seg_idx"); n != 1 {
		t.Errorf("header appears %d times, want 1", n)
	}
	if n := len(strings.Split(strings.TrimSpace(string(data)), "\n")); n != 3 {
		t.Errorf("shard has %d lines, want 3 (header + 2 rows)", n)
	}
}

func TestConsolidateKeepsNewestOnCollision(t *testing.T) {
	dir := t.TempDir()
	older := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	oldRec := rec("cam/20260801/clip.mp4", 0, older)
	oldRec.TextTruncated = "stale"
	newRec := rec("cam/20260801/clip.mp4", 0, newer)
	newRec.TextTruncated = "fresh"

	// The newer record sits in the lower-numbered shard, so "keep newest"
	// cannot be confused with "keep last encountered".
	writeShard(t, dir, 0, newRec)
	writeShard(t, dir, 1, oldRec)

	n, err := Consolidate(dir)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	content, err := os.ReadFile(filepath.Join(dir, GlobalName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "fresh") || strings.Contains(string(content), "stale") {
		t.Errorf("merged index did not keep the newest record:\n%s", content)
	}

	// Shards are gone after a successful merge.
	shards, _ := filepath.Glob(filepath.Join(dir, "INDEX.shard-*.csv"))
	if len(shards) != 0 {
		t.Errorf("shards remain after merge: %v", shards)
	}
}

func TestConsolidateSubSecondCollision(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	oldRec := rec("cam/20260824/clip.mp4", 0, base)
	oldRec.TextTruncated = "stale"
	writeShard(t, dir, 0, oldRec)
	if _, err := Consolidate(dir); err != nil {
		t.Fatal(err)
	}

	// A forced re-run lands 250ms later, inside the same wall-clock second.
	// The re-run's row must still supersede the merged one.
	newRec := rec("cam/20260824/clip.mp4", 0, base.Add(250*time.Millisecond))
	newRec.TextTruncated = "fresh"
	writeShard(t, dir, 0, newRec)

	n, err := Consolidate(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
	content, err := os.ReadFile(filepath.Join(dir, GlobalName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "fresh") || strings.Contains(string(content), "stale") {
		t.Errorf("re-run row lost to a same-second tie:\n%s", content)
	}
}

func TestConsolidateFailureLeavesShards(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, 0, rec("cam/20260824/a.mp4", 0, time.Now().UTC()))
	writeShard(t, dir, 1, rec("cam/20260824/b.mp4", 0, time.Now().UTC()))

	// A directory squatting on the global index path fails the merge.
	if err := os.Mkdir(filepath.Join(dir, GlobalName), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := Consolidate(dir); err == nil {
		t.Fatal("expected consolidation to fail")
	}
	shards, err := filepath.Glob(filepath.Join(dir, "INDEX.shard-*.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 2 {
		t.Errorf("shards = %v, want both unmerged shards preserved", shards)
	}
}

func TestConsolidateIdempotent(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	writeShard(t, dir, 0,
		rec("b/20260820/y.mp4", 0, now),
		rec("a/20260819/x.mp4", 1, now),
		rec("a/20260819/x.mp4", 0, now),
	)

	if _, err := Consolidate(dir); err != nil {
		t.Fatalf("first Consolidate: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, GlobalName))
	if err != nil {
		t.Fatal(err)
	}

	// Second run sees no shards, only the existing global index.
	if _, err := Consolidate(dir); err != nil {
		t.Fatalf("second Consolidate: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, GlobalName))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Errorf("consolidation not idempotent:\n%s\nvs\n%s", first, second)
	}

	// Sorted by (date, video_stem, seg_idx): x before y, seg 0 before 1.
	lines := strings.Split(strings.TrimSpace(string(first)), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4", len(lines))
	}
	wantOrder := []string{"x.mp4,0", "x.mp4,1", "y.mp4,0"}
	for i, want := range wantOrder {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("row %d = %q, want key %q", i, lines[i+1], want)
		}
	}
}

func TestConsolidateMergesWithExistingIndex(t *testing.T) {
	dir := t.TempDir()
	t1 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	writeShard(t, dir, 0, rec("run1/20260820/a.mp4", 0, t1))
	if _, err := Consolidate(dir); err != nil {
		t.Fatal(err)
	}

	// A later batch contributes a new shard; the earlier row survives.
	writeShard(t, dir, 0, rec("run2/20260821/b.mp4", 0, t1.Add(time.Hour)))
	n, err := Consolidate(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2 (old row preserved)", n)
	}
}

func TestTruncateRuneSafe(t *testing.T) {
	long := strings.Repeat("ü", 600)
	got := Truncate(long)
	runes := []rune(got)
	if len(runes) != 512 {
		t.Errorf("truncated to %d runes, want 512", len(runes))
	}
	if strings.Contains(got, "�") {
		t.Error("truncation split a multibyte rune")
	}

	if got := Truncate("short"); got != "short" {
		t.Errorf("short text altered: %q", got)
	}
}

func TestDateFromRel(t *testing.T) {
	tests := []struct {
		rel  string
		want string
	}{
		{"cam1/20260814/clip_001.mp4", "20260814"},
		{"20251201_dash/front.mov", "20251201"},
		{"nodate/clip.mp4", ""},
		{"short/123/clip.mp4", ""},
	}
	for _, tt := range tests {
		if got := DateFromRel(tt.rel); got != tt.want {
			t.Errorf("DateFromRel(%q) = %q, want %q", tt.rel, got, tt.want)
		}
	}
}
