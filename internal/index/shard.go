package index

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// ShardWriter appends index rows to one worker's private shard file. Each
// worker owns exactly one shard, so shards need no write locking.
type ShardWriter struct {
	path string
	f    *os.File
	w    *csv.Writer
}

// ShardPath returns the shard file path for a worker.
func ShardPath(dir string, workerID int) string {
	return filepath.Join(dir, fmt.Sprintf("INDEX.shard-%d.csv", workerID))
}

// NewShardWriter opens (or resumes) the worker's shard. The header is written
// only when the file starts empty.
func NewShardWriter(dir string, workerID int) (*ShardWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	path := ShardPath(dir, workerID)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat shard: %w", err)
	}

	sw := &ShardWriter{path: path, f: f, w: csv.NewWriter(f)}
	if stat.Size() == 0 {
		if err := sw.w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write shard header: %w", err)
		}
	}
	return sw, nil
}

// Append adds one row. Rows become durable at the next Flush.
func (sw *ShardWriter) Append(rec Record) error {
	if err := sw.w.Write(rec.fields()); err != nil {
		return fmt.Errorf("append shard row: %w", err)
	}
	return nil
}

// Flush pushes buffered rows to disk. Called at file boundaries so a crash
// never leaves a job's rows half-written.
func (sw *ShardWriter) Flush() error {
	sw.w.Flush()
	if err := sw.w.Error(); err != nil {
		return fmt.Errorf("flush shard: %w", err)
	}
	return sw.f.Sync()
}

// Close flushes and closes the shard file.
func (sw *ShardWriter) Close() error {
	if err := sw.Flush(); err != nil {
		sw.f.Close()
		return err
	}
	return sw.f.Close()
}
