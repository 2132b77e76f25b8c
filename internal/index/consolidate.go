package index

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"dashscribe/internal/output"
)

// Consolidate merges every worker shard under dir (plus the existing global
// index, if any) into one INDEX.csv. Collisions on (video_rel, seg_idx) keep
// the record with the greatest created_utc; on equal timestamps the earlier
// input wins, keeping the merge deterministic. Shards are deleted only after
// the merged index is written, so a failed merge loses nothing.
func Consolidate(dir string) (int, error) {
	shards, err := filepath.Glob(filepath.Join(dir, "INDEX.shard-*.csv"))
	if err != nil {
		return 0, fmt.Errorf("glob shards: %w", err)
	}
	sort.Strings(shards)

	globalPath := filepath.Join(dir, GlobalName)

	inputs := make([]string, 0, len(shards)+1)
	if _, err := os.Stat(globalPath); err == nil {
		// Rows already merged carry over; newer shard rows supersede them.
		inputs = append(inputs, globalPath)
	}
	inputs = append(inputs, shards...)
	if len(inputs) == 0 {
		return 0, nil
	}

	merged := make(map[string]Record)
	for _, path := range inputs {
		records, err := readRows(path)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		for _, rec := range records {
			key := rec.VideoRel + "\x00" + fmt.Sprint(rec.SegIdx)
			if prev, ok := merged[key]; ok && !rec.CreatedUTC.After(prev.CreatedUTC) {
				continue
			}
			merged[key] = rec
		}
	}

	rows := make([]Record, 0, len(merged))
	for _, rec := range merged {
		rows = append(rows, rec)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.VideoStem != b.VideoStem {
			return a.VideoStem < b.VideoStem
		}
		if a.SegIdx != b.SegIdx {
			return a.SegIdx < b.SegIdx
		}
		return a.VideoRel < b.VideoRel
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range rows {
		if err := w.Write(rec.fields()); err != nil {
			return 0, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("encode index: %w", err)
	}

	if err := output.AtomicWrite(globalPath, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("write global index: %w", err)
	}

	for _, shard := range shards {
		if err := os.Remove(shard); err != nil {
			slog.Warn("could not remove merged shard", "shard", filepath.Base(shard), "err", err)
		}
	}

	slog.Info("index consolidated", "rows", len(rows), "shards", len(shards))
	return len(rows), nil
}

func readRows(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	raw, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	records := make([]Record, 0, len(raw)-1)
	for _, fields := range raw[1:] { // skip header
		rec, err := recordFromFields(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
