package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dashscribe/internal/batch"
	"dashscribe/internal/config"
	"dashscribe/internal/diarize"
	"dashscribe/internal/extract"
	"dashscribe/internal/ffmpeg"
	"dashscribe/internal/segment"
	"dashscribe/internal/transcribe"

	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch <input-dir>",
	Short: "Transcribe every video under a directory",
	Long: `Walk a directory of video files and run the full pipeline on each: audio
extraction with an ordered retry matrix, segmentation, transcription,
optional diarization, and validated TXT/JSON/SRT/VTT export. Finished
videos are skipped on re-runs, worker shard indexes are consolidated into
INDEX.csv, and a results report is written at the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var (
	outputDir     string
	workers       int
	jobsPerMinute int
	force         bool

	fixedMode bool
	vadMode   bool
	chunkSec  float64

	task       string
	langDetect string
	language   string
	writeSRT   bool
	writeVTT   bool

	extractTimeoutSec int

	diarizeEnabled bool
	diarizeMinSpan float64
	tieBreak       string

	noTelemetry bool
)

func init() {
	defaults := config.Default()

	batchCmd.Flags().StringVarP(&outputDir, "output", "o", defaults.OutputRoot, "output root directory")
	batchCmd.Flags().IntVarP(&workers, "workers", "w", defaults.Workers, "parallel workers (tune to available VRAM)")
	batchCmd.Flags().IntVar(&jobsPerMinute, "jobs-per-minute", defaults.JobsPerMinute, "job launch rate limit")
	batchCmd.Flags().BoolVarP(&force, "force", "f", false, "reprocess videos with existing outputs")

	batchCmd.Flags().BoolVar(&fixedMode, "fixed", false, "fixed-length segmentation")
	batchCmd.Flags().BoolVar(&vadMode, "vad", false, "voice-activity segmentation")
	batchCmd.Flags().Float64Var(&chunkSec, "chunk-sec", defaults.FixedChunkSec, "fixed chunk length in seconds")

	batchCmd.Flags().StringVar(&task, "task", defaults.Task, "recognition task: transcribe or translate")
	batchCmd.Flags().StringVar(&langDetect, "lang-detect", "", "language detection scope: file or segment (required)")
	batchCmd.Flags().StringVarP(&language, "language", "l", "", "force a language instead of detecting")
	batchCmd.Flags().BoolVar(&writeSRT, "srt", defaults.WriteSRT, "write SRT subtitles")
	batchCmd.Flags().BoolVar(&writeVTT, "vtt", defaults.WriteVTT, "write WebVTT subtitles")

	batchCmd.Flags().IntVar(&extractTimeoutSec, "extract-timeout", defaults.ExtractTimeoutSec, "per-tier extraction timeout in seconds")

	batchCmd.Flags().BoolVar(&diarizeEnabled, "diarize", false, "assign speaker labels")
	batchCmd.Flags().Float64Var(&diarizeMinSpan, "diarize-min-span", defaults.Diarization.MinSpanSec, "drop diarization spans shorter than this")
	batchCmd.Flags().StringVar(&tieBreak, "tie-break", defaults.Diarization.TieBreak, "speaker tie-break: overlap-earliest or overlap-longest")

	batchCmd.Flags().BoolVar(&noTelemetry, "no-telemetry", false, "disable GPU telemetry sampling")

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	if !ffmpeg.Available() {
		return fmt.Errorf("ffmpeg not found on PATH")
	}

	cfg := config.Default()
	cfg.LoadEnv()
	cfg.InputRoot = args[0]
	cfg.OutputRoot = outputDir
	// An explicit --workers beats the DASHSCRIBE_WORKERS env override.
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	cfg.JobsPerMinute = jobsPerMinute
	cfg.Force = force
	cfg.Fixed = fixedMode
	cfg.VAD = vadMode
	cfg.FixedChunkSec = chunkSec
	cfg.Task = task
	cfg.LangDetect = langDetect
	cfg.Language = language
	cfg.WriteSRT = writeSRT
	cfg.WriteVTT = writeVTT
	cfg.ExtractTimeoutSec = extractTimeoutSec
	cfg.Diarization.Enabled = diarizeEnabled
	cfg.Diarization.MinSpanSec = diarizeMinSpan
	cfg.Diarization.TieBreak = tieBreak
	cfg.Telemetry.Enabled = !noTelemetry

	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, err := os.Stat(cfg.InputRoot); err != nil {
		return fmt.Errorf("input directory: %w", err)
	}

	// Setup signal handling for graceful cancellation.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := buildOrchestrator(cfg)
	rep, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	if !quiet {
		slog.Info("done",
			"processed", rep.Processed, "skipped", rep.Skipped, "failed", rep.Failed)
	}
	return nil
}

func buildOrchestrator(cfg *config.Config) *batch.Orchestrator {
	runner := ffmpeg.ExecRunner{}

	o := &batch.Orchestrator{
		Cfg: cfg,
		Extractor: &extract.Extractor{
			Runner:      runner,
			TierTimeout: time.Duration(cfg.ExtractTimeoutSec) * time.Second,
		},
		NewEngine: func(workerID int) *transcribe.Engine {
			client := transcribe.NewClient(cfg.RecognizerURL)
			return transcribe.NewEngine(client, cfg.Task, cfg.LangDetect, cfg.Language)
		},
	}

	if cfg.Mode() == config.ModeVAD {
		o.Detector = &segment.SilenceDetector{
			Runner:        runner,
			NoiseDB:       cfg.VADSettings.SilenceNoiseDB,
			MinSilenceSec: cfg.VADSettings.SilenceMinDurSec,
		}
	}
	if cfg.Diarization.Enabled {
		o.Diarizer = &diarize.Adapter{
			Backend:    diarize.NewHTTPBackend(cfg.Diarization.URL, cfg.Diarization.TokenEnv),
			MinSpanSec: cfg.Diarization.MinSpanSec,
			TieBreak:   diarize.Policy(cfg.Diarization.TieBreak),
		}
	}
	if cfg.Telemetry.Enabled {
		o.Prober = transcribe.NvidiaSMI{}
	}
	return o
}
