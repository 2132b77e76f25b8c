package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dashscribe/internal/ffmpeg"
)

// Job is one discovered video. Immutable after discovery; Duration is filled
// in once the extraction probe has run.
type Job struct {
	AbsPath  string
	RelPath  string
	Stem     string
	Duration float64
}

// Discover walks the input root for video files and returns Jobs sorted by
// relative path.
func Discover(root string) ([]Job, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve input root: %w", err)
	}

	var jobs []Job
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !ffmpeg.IsVideoExtension(filepath.Ext(path)) {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		jobs = append(jobs, Job{
			AbsPath: path,
			RelPath: filepath.ToSlash(rel),
			Stem:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk input root: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].RelPath < jobs[j].RelPath })
	return jobs, nil
}

// OutputPaths locates a job's artifacts under the output root, mirroring the
// input directory layout.
type OutputPaths struct {
	TXT    string
	JSON   string
	SRT    string
	VTT    string
	Failed string
}

func outputPathsFor(outputRoot string, job Job) OutputPaths {
	dir := filepath.Join(outputRoot, filepath.Dir(job.RelPath))
	return OutputPaths{
		TXT:    filepath.Join(dir, job.Stem+".txt"),
		JSON:   filepath.Join(dir, job.Stem+".json"),
		SRT:    filepath.Join(dir, job.Stem+".srt"),
		VTT:    filepath.Join(dir, job.Stem+".vtt"),
		Failed: filepath.Join(dir, job.Stem+"_FAILED.json"),
	}
}

// ResumeGuard decides, before any work starts, whether a job's terminal
// outputs already exist and the job should be skipped.
type ResumeGuard struct {
	OutputRoot string
	Force      bool
}

// ShouldSkip reports whether both terminal TXT and JSON outputs exist.
// Outputs only appear via atomic rename, so presence means completion.
func (g ResumeGuard) ShouldSkip(job Job) bool {
	if g.Force {
		return false
	}
	paths := outputPathsFor(g.OutputRoot, job)
	return fileExists(paths.TXT) && fileExists(paths.JSON)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
