package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"dashscribe/internal/ffmpeg"
)

// Tier names one step of the retry matrix. Tiers run strictly in order and
// the first success wins; no tier is skipped or retried out of order.
type Tier string

const (
	TierPrimary       Tier = "primary"
	TierCodecFallback Tier = "codec-fallback"
	TierDemuxerArgs   Tier = "demuxer-args"
	TierExtendedProbe Tier = "extended-probe"
)

// tierSpec describes one matrix row: input-side args, codec args, and the
// output extension the codec implies.
type tierSpec struct {
	tier      Tier
	inputArgs []string
	codecArgs []string
	outExt    string
}

var tiers = []tierSpec{
	{
		tier:      TierPrimary,
		codecArgs: []string{"-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1"},
		outExt:    ".wav",
	},
	{
		tier:      TierCodecFallback,
		codecArgs: []string{"-acodec", "flac", "-ar", "16000", "-ac", "1"},
		outExt:    ".flac",
	},
	{
		tier:      TierDemuxerArgs,
		inputArgs: []string{"-fflags", "+genpts", "-rw_timeout", "15000000"},
		codecArgs: []string{"-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1"},
		outExt:    ".wav",
	},
	{
		tier:      TierExtendedProbe,
		inputArgs: []string{"-analyzeduration", "100M", "-probesize", "100M"},
		codecArgs: []string{"-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1"},
		outExt:    ".wav",
	},
}

// Attempt records one tier invocation and its outcome.
type Attempt struct {
	Tier    Tier
	Args    []string
	Class   ffmpeg.ErrorClass
	Message string
}

// Failure is returned when every tier is exhausted (or the probe reports no
// audio stream). Class and Message carry the last attempt's classification.
type Failure struct {
	Class    ffmpeg.ErrorClass
	Message  string
	Probe    *ffmpeg.ProbeResult
	Attempts []Attempt
}

func (f *Failure) Error() string {
	return fmt.Sprintf("audio extraction failed after %d attempts: %s: %s", len(f.Attempts), f.Class, f.Message)
}

// Extractor demuxes a video into a normalized mono 16kHz waveform through the
// ordered retry matrix.
type Extractor struct {
	Runner      ffmpeg.Runner
	TierTimeout time.Duration

	// ProbeFn defaults to ffmpeg.Probe.
	ProbeFn func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// Result holds the successful extraction outcome.
type Result struct {
	AudioPath string
	Probe     *ffmpeg.ProbeResult
	Attempts  []Attempt
}

// Extract probes the video, then walks the tier matrix until one invocation
// succeeds. outStem is the output path without extension; the produced file's
// extension depends on the winning tier's codec. On exhaustion the returned
// error is a *Failure carrying the probe metadata and every attempt.
func (e *Extractor) Extract(ctx context.Context, videoPath, outStem string) (*Result, error) {
	probeFn := e.ProbeFn
	if probeFn == nil {
		probeFn = ffmpeg.Probe
	}
	probe, probeErr := probeFn(ctx, videoPath)
	if probeErr != nil {
		slog.Warn("ffprobe failed, continuing without metadata", "video", filepath.Base(videoPath), "err", probeErr)
	} else if !probe.HasAudio {
		return nil, &Failure{
			Class:   ffmpeg.ClassNoAudio,
			Message: "container has no audio stream",
			Probe:   probe,
		}
	}

	var attempts []Attempt
	for _, spec := range tiers {
		args := buildArgs(spec, videoPath, outStem+spec.outExt)

		tctx, cancel := context.WithTimeout(ctx, e.TierTimeout)
		stderr, err := e.Runner.Run(tctx, args)
		cancel()

		if err == nil {
			slog.Debug("extraction succeeded", "video", filepath.Base(videoPath), "tier", spec.tier)
			return &Result{
				AudioPath: outStem + spec.outExt,
				Probe:     probe,
				Attempts:  attempts,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		class := ffmpeg.ClassifyStderr(stderr)
		msg := tailLine(stderr)
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("tier timed out after %s", e.TierTimeout)
		}
		attempts = append(attempts, Attempt{
			Tier:    spec.tier,
			Args:    args,
			Class:   class,
			Message: msg,
		})
		slog.Warn("extraction tier failed",
			"video", filepath.Base(videoPath), "tier", spec.tier, "class", class, "err", msg)
	}

	last := attempts[len(attempts)-1]
	return nil, &Failure{
		Class:    last.Class,
		Message:  last.Message,
		Probe:    probe,
		Attempts: attempts,
	}
}

func buildArgs(spec tierSpec, videoPath, outPath string) []string {
	args := append([]string{"-y"}, spec.inputArgs...)
	args = append(args, "-i", videoPath, "-vn")
	args = append(args, spec.codecArgs...)
	return append(args, outPath)
}

// tailLine returns the last non-empty stderr line, where ffmpeg puts the
// actionable error.
func tailLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return "ffmpeg exited with non-zero status"
}
