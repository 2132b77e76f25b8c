package batch

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"dashscribe/internal/output"
	"dashscribe/internal/transcribe"
)

// FailedFile is one entry of the report's failed-file list.
type FailedFile struct {
	VideoPath    string `json:"video_path"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// Report summarizes one batch run.
type Report struct {
	TaskID      string              `json:"task_id"`
	StartedUTC  string              `json:"started_utc"`
	FinishedUTC string              `json:"finished_utc"`
	WallSeconds float64             `json:"wall_seconds"`
	Discovered  int                 `json:"discovered"`
	Processed   int                 `json:"processed"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	IndexRows   int                 `json:"index_rows"`
	GPU         *transcribe.Metrics `json:"gpu_metrics"`
	Artifacts   []string            `json:"artifacts"`
	FailedFiles []FailedFile        `json:"failed_files"`
}

// WriteReport renders the report to reports/{task_id}__results.json under the
// output root and returns the written path.
func WriteReport(outputRoot string, rep *Report) (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	path := filepath.Join(outputRoot, "reports", rep.TaskID+"__results.json")
	if err := output.AtomicWrite(path, data); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func utcStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
