package extract

import (
	"encoding/json"
	"fmt"
	"time"

	"dashscribe/internal/ffmpeg"
	"dashscribe/internal/output"
)

// FailedFileRecord is the terminal record for a video whose extraction
// exhausted the retry matrix. It is serialized to a {stem}_FAILED.json
// sidecar next to the video's outputs.
type FailedFileRecord struct {
	VideoPath       string            `json:"video_path"`
	ErrorType       ffmpeg.ErrorClass `json:"error_type"`
	ErrorMessage    string            `json:"error_message"`
	FFprobeMetadata json.RawMessage   `json:"ffprobe_metadata"`
	Timestamp       string            `json:"timestamp"`
}

// NewFailedFileRecord builds the sidecar record from an exhausted Failure.
func NewFailedFileRecord(videoPath string, f *Failure, now time.Time) FailedFileRecord {
	rec := FailedFileRecord{
		VideoPath:    videoPath,
		ErrorType:    f.Class,
		ErrorMessage: f.Message,
		Timestamp:    now.UTC().Format(time.RFC3339),
	}
	if f.Probe != nil {
		rec.FFprobeMetadata = f.Probe.Raw
	}
	return rec
}

// WriteSidecar writes the record as JSON via a temporary file and rename, so
// a crash mid-write never leaves a truncated sidecar.
func WriteSidecar(path string, rec FailedFileRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failed-file record: %w", err)
	}
	if err := output.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}
