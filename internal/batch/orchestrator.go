package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"dashscribe/internal/config"
	"dashscribe/internal/diarize"
	"dashscribe/internal/extract"
	"dashscribe/internal/ffmpeg"
	"dashscribe/internal/index"
	"dashscribe/internal/output"
	"dashscribe/internal/segment"
	"dashscribe/internal/transcribe"
)

// Orchestrator sequences the per-file pipeline and fans jobs out across
// parallel workers. Jobs are fully independent; each worker owns one model
// handle and one index shard, so the hot path never shares a writer.
type Orchestrator struct {
	Cfg       *config.Config
	Extractor *extract.Extractor
	Detector  segment.Detector // used in vad mode
	Diarizer  *diarize.Adapter // nil when diarization is disabled
	Prober    transcribe.Prober

	// NewEngine builds one worker's model handle, created once and reused
	// across all jobs that worker pulls.
	NewEngine func(workerID int) *transcribe.Engine
}

// tally accumulates cross-worker results for the batch report.
type tally struct {
	mu        sync.Mutex
	processed int
	skipped   int
	artifacts []string
	failed    []FailedFile
	samples   []transcribe.Sample
}

func (t *tally) skip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

func (t *tally) done(artifacts []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.artifacts = append(t.artifacts, artifacts...)
}

func (t *tally) fail(f FailedFile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = append(t.failed, f)
}

func (t *tally) observe(samples []transcribe.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, samples...)
}

// Run executes the whole batch: discovery, the worker pool, index
// consolidation, and the results report.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	taskID := uuid.NewString()

	jobs, err := Discover(o.Cfg.InputRoot)
	if err != nil {
		return nil, err
	}
	slog.Info("batch starting",
		"task_id", taskID, "videos", len(jobs),
		"workers", o.Cfg.Workers, "mode", o.Cfg.Mode())

	guard := ResumeGuard{OutputRoot: o.Cfg.OutputRoot, Force: o.Cfg.Force}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.Cfg.JobsPerMinute)), 1)
	acc := &tally{}

	jobCh := make(chan Job)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobCh <- job:
			}
		}
		return nil
	})

	for w := 0; w < o.Cfg.Workers; w++ {
		workerID := w
		g.Go(func() error {
			return o.worker(gctx, workerID, jobCh, guard, limiter, acc)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows, err := index.Consolidate(o.Cfg.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("consolidate index: %w", err)
	}

	finished := time.Now()
	rep := &Report{
		TaskID:      taskID,
		StartedUTC:  utcStamp(started),
		FinishedUTC: utcStamp(finished),
		WallSeconds: finished.Sub(started).Seconds(),
		Discovered:  len(jobs),
		Processed:   acc.processed,
		Skipped:     acc.skipped,
		Failed:      len(acc.failed),
		IndexRows:   rows,
		GPU:         o.gpuMetrics(ctx, acc),
		Artifacts:   acc.artifacts,
		FailedFiles: acc.failed,
	}

	path, err := WriteReport(o.Cfg.OutputRoot, rep)
	if err != nil {
		return nil, err
	}
	slog.Info("batch finished",
		"task_id", taskID, "processed", rep.Processed, "skipped", rep.Skipped,
		"failed", rep.Failed, "index_rows", rows, "report", path)
	return rep, nil
}

func (o *Orchestrator) worker(ctx context.Context, workerID int, jobCh <-chan Job,
	guard ResumeGuard, limiter *rate.Limiter, acc *tally) error {

	engine := o.NewEngine(workerID)
	shard, err := index.NewShardWriter(o.Cfg.OutputRoot, workerID)
	if err != nil {
		return err
	}
	defer shard.Close()

	for job := range jobCh {
		if guard.ShouldSkip(job) {
			slog.Info("skipping finished video", "video", job.RelPath)
			acc.skip()
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := o.processJob(ctx, workerID, job, engine, shard, acc); err != nil {
			return err
		}
	}
	return nil
}

// processJob runs the full per-file pipeline. Per-file failures are recorded
// and swallowed; only context cancellation propagates.
func (o *Orchestrator) processJob(ctx context.Context, workerID int, job Job,
	engine *transcribe.Engine, shard *index.ShardWriter, acc *tally) error {

	slog.Info("processing video", "worker", workerID, "video", job.RelPath)
	paths := outputPathsFor(o.Cfg.OutputRoot, job)

	var sampler *transcribe.Sampler
	if o.Prober != nil && o.Cfg.Telemetry.Enabled {
		interval := time.Duration(o.Cfg.Telemetry.IntervalMS) * time.Millisecond
		sampler = transcribe.StartSampler(ctx, o.Prober, interval)
		defer func() {
			if sampler != nil {
				acc.observe(sampler.Stop())
			}
		}()
	}

	tmpDir, err := os.MkdirTemp("", "dashscribe-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	res, err := o.Extractor.Extract(ctx, job.AbsPath, filepath.Join(tmpDir, job.Stem))
	if err != nil {
		var failure *extract.Failure
		if !errors.As(err, &failure) {
			return err // context cancellation
		}
		rec := extract.NewFailedFileRecord(job.AbsPath, failure, time.Now())
		if werr := extract.WriteSidecar(paths.Failed, rec); werr != nil {
			slog.Error("could not write failure sidecar", "video", job.RelPath, "err", werr)
		}
		acc.fail(FailedFile{
			VideoPath:    job.AbsPath,
			ErrorType:    string(failure.Class),
			ErrorMessage: failure.Message,
		})
		slog.Error("extraction exhausted, skipping video",
			"video", job.RelPath, "class", failure.Class, "err", failure.Message)
		return nil
	}

	job.Duration = o.waveformDuration(ctx, res)

	segs, err := o.segments(ctx, res.AudioPath, job.Duration)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		acc.fail(FailedFile{VideoPath: job.AbsPath, ErrorType: "segmentation_err", ErrorMessage: err.Error()})
		slog.Error("segmentation failed", "video", job.RelPath, "err", err)
		return nil
	}

	tsegs, err := engine.Run(ctx, res.AudioPath, segs)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		acc.fail(FailedFile{VideoPath: job.AbsPath, ErrorType: "transcribe_err", ErrorMessage: err.Error()})
		slog.Error("transcription failed", "video", job.RelPath, "err", err)
		return nil
	}

	if o.Diarizer != nil {
		labels := o.Diarizer.Label(ctx, res.AudioPath, segs)
		for i := range tsegs {
			tsegs[i].Speaker = labels[i]
		}
	}

	artifacts, err := o.writeTranscripts(job, paths, tsegs)
	if err != nil {
		acc.fail(FailedFile{VideoPath: job.AbsPath, ErrorType: "format_validation", ErrorMessage: err.Error()})
		slog.Error("output writing failed", "video", job.RelPath, "err", err)
		return nil
	}

	// Index rows go in before the subtitle formats: once TXT and JSON exist
	// the resume guard skips this video on later runs, so its rows must
	// already be durable.
	if err := o.appendIndexRows(shard, job, paths, tsegs); err != nil {
		return err
	}

	subs, err := o.writeSubtitles(paths, tsegs)
	if err != nil {
		acc.fail(FailedFile{VideoPath: job.AbsPath, ErrorType: "format_validation", ErrorMessage: err.Error()})
		slog.Error("subtitle writing failed", "video", job.RelPath, "err", err)
		return nil
	}

	acc.done(absAll(append(artifacts, subs...)))
	slog.Info("video completed", "worker", workerID, "video", job.RelPath, "segments", len(tsegs))
	return nil
}

// waveformDuration prefers the container probe, re-probing the extracted
// waveform when the container metadata was unreadable.
func (o *Orchestrator) waveformDuration(ctx context.Context, res *extract.Result) float64 {
	if res.Probe != nil && res.Probe.Duration > 0 {
		return res.Probe.Duration
	}
	if probe, err := ffmpeg.Probe(ctx, res.AudioPath); err == nil {
		return probe.Duration
	}
	return 0
}

func (o *Orchestrator) segments(ctx context.Context, audioPath string, duration float64) ([]segment.Segment, error) {
	var segs []segment.Segment
	if o.Cfg.Mode() == config.ModeVAD {
		raw, err := o.Detector.DetectSpeech(ctx, audioPath, duration)
		if err != nil {
			return nil, err
		}
		segs = segment.VAD(raw, segment.VADOptions{
			MinSpanSec:   o.Cfg.VADSettings.MinSpanSec,
			MaxSpanSec:   o.Cfg.VADSettings.MaxSpanSec,
			MergeGapSec:  o.Cfg.VADSettings.MergeGapSec,
			SpeechPadSec: o.Cfg.VADSettings.SpeechPadSec,
		})
	} else {
		segs = segment.Fixed(duration, o.Cfg.FixedChunkSec)
	}
	if err := segment.Validate(segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// writeTranscripts renders the always-on TXT and JSON outputs.
func (o *Orchestrator) writeTranscripts(job Job, paths OutputPaths, tsegs []transcribe.TranscriptSegment) ([]string, error) {
	meta := output.FileMeta{VideoRel: job.RelPath, Mode: string(o.Cfg.Mode())}

	if err := output.WriteTXT(paths.TXT, meta, tsegs); err != nil {
		return nil, err
	}
	if err := output.WriteJSON(paths.JSON, meta, tsegs); err != nil {
		return nil, err
	}
	return []string{paths.TXT, paths.JSON}, nil
}

// writeSubtitles renders the requested subtitle formats. A failure here is
// fatal for the job, but the transcripts and index rows written before it
// stay in place.
func (o *Orchestrator) writeSubtitles(paths OutputPaths, tsegs []transcribe.TranscriptSegment) ([]string, error) {
	cues := output.CuesFromSegments(tsegs)

	var artifacts []string
	if o.Cfg.WriteSRT {
		if err := output.WriteSRT(paths.SRT, cues); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, paths.SRT)
	}
	if o.Cfg.WriteVTT {
		if err := output.WriteVTT(paths.VTT, cues); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, paths.VTT)
	}
	return artifacts, nil
}

func (o *Orchestrator) appendIndexRows(shard *index.ShardWriter, job Job,
	paths OutputPaths, tsegs []transcribe.TranscriptSegment) error {

	now := time.Now().UTC()
	jsonRef := absPath(paths.JSON)
	for _, ts := range tsegs {
		rec := index.Record{
			VideoRel:      job.RelPath,
			SegIdx:        ts.Index,
			Date:          index.DateFromRel(job.RelPath),
			VideoStem:     job.Stem,
			Lang:          ts.Language,
			Conf:          ts.Confidence,
			Speaker:       ts.Speaker,
			TextTruncated: index.Truncate(ts.Text),
			FullTextRef:   jsonRef,
			CreatedUTC:    now,
		}
		if err := shard.Append(rec); err != nil {
			return err
		}
	}
	// Rows become durable at the file boundary.
	return shard.Flush()
}

// gpuMetrics folds every worker's samples into the report's GPU block.
func (o *Orchestrator) gpuMetrics(ctx context.Context, acc *tally) *transcribe.Metrics {
	if o.Prober == nil || !o.Cfg.Telemetry.Enabled {
		return nil
	}
	info, err := o.Prober.Device(ctx)
	if err != nil {
		slog.Warn("device query failed, omitting GPU metrics", "err", err)
		return nil
	}

	sort.Slice(acc.samples, func(i, j int) bool { return acc.samples[i].At.Before(acc.samples[j].At) })
	util, mem := transcribe.WeightedAverage(acc.samples)
	return &transcribe.Metrics{
		Device:         info.Name,
		VRAMTotalMB:    info.VRAMTotalMB,
		VRAMFreeMB:     info.VRAMFreeMB,
		AvgUtilPct:     util,
		AvgMemPct:      mem,
		DriverVersion:  info.DriverVersion,
		RuntimeVersion: info.RuntimeVersion,
	}
}

func absAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = absPath(p)
	}
	return out
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
