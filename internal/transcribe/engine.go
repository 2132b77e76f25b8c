package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"dashscribe/internal/segment"
)

// Engine drives recognition over a file's segment sequence. One Engine per
// worker, created once and reused across that worker's jobs.
type Engine struct {
	rec        Recognizer
	task       string // "transcribe" or "translate"
	langDetect string // "file" or "segment"
	language   string // forced language, empty means detect
}

// NewEngine wraps a Recognizer with the batch's recognition policy.
func NewEngine(rec Recognizer, task, langDetect, language string) *Engine {
	return &Engine{rec: rec, task: task, langDetect: langDetect, language: language}
}

// Run transcribes every segment in order and anchors all word timestamps to
// the video timeline. In "file" language mode the language detected on the
// first segment is reused for the rest of the file.
func (e *Engine) Run(ctx context.Context, audioPath string, segs []segment.Segment) ([]TranscriptSegment, error) {
	fileLang := e.language

	out := make([]TranscriptSegment, 0, len(segs))
	for i, seg := range segs {
		opts := Options{
			Task:     e.task,
			Language: fileLang,
			Start:    seg.Start,
			Duration: seg.Duration(),
		}
		if e.langDetect == "segment" {
			opts.Language = e.language
		}

		res, err := e.rec.Transcribe(ctx, audioPath, opts)
		if err != nil {
			return nil, fmt.Errorf("segment %d [%.3f, %.3f): %w", i, seg.Start, seg.End, err)
		}

		if e.langDetect == "file" && fileLang == "" {
			fileLang = res.Language
			slog.Debug("file language detected",
				"audio", filepath.Base(audioPath), "language", fileLang, "prob", res.LanguageProb)
		}

		ts := TranscriptSegment{
			Index:        i,
			Start:        roundMs(seg.Start),
			End:          roundMs(seg.End),
			Text:         res.Text,
			Words:        anchorWords(res.Words, seg),
			Language:     res.Language,
			LanguageProb: res.LanguageProb,
			Confidence:   meanConfidence(res.Words),
		}
		out = append(out, ts)

		slog.Debug("segment transcribed",
			"audio", filepath.Base(audioPath), "segment", i,
			"words", len(ts.Words), "confidence", fmt.Sprintf("%.2f", ts.Confidence))
	}
	return out, nil
}

// anchorWords clamps each word's relative bounds into the segment, then
// shifts them to absolute video time with millisecond rounding.
func anchorWords(words []Word, seg segment.Segment) []Word {
	if len(words) == 0 {
		return nil
	}
	dur := seg.Duration()
	out := make([]Word, len(words))
	for i, w := range words {
		start := math.Max(0, math.Min(w.Start, dur))
		end := math.Max(start, math.Min(w.End, dur))
		out[i] = Word{
			Word:       w.Word,
			Start:      roundMs(seg.Start + start),
			End:        roundMs(seg.Start + end),
			Confidence: w.Confidence,
		}
	}
	return out
}

// meanConfidence is the mean word probability, 0.5 when no words were
// recognized.
func meanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}

func roundMs(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}
