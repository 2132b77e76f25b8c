package segment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dashscribe/internal/ffmpeg"
)

// Detector proposes raw speech spans for a waveform.
type Detector interface {
	DetectSpeech(ctx context.Context, audioPath string, duration float64) ([]Segment, error)
}

// SilenceDetector derives speech spans from ffmpeg's silencedetect filter:
// the speech spans are the complement of the detected silences.
type SilenceDetector struct {
	Runner        ffmpeg.Runner
	NoiseDB       float64
	MinSilenceSec float64
}

func (d *SilenceDetector) DetectSpeech(ctx context.Context, audioPath string, duration float64) ([]Segment, error) {
	filter := fmt.Sprintf("silencedetect=noise=%.0fdB:d=%.2f", d.NoiseDB, d.MinSilenceSec)
	stderr, err := d.Runner.Run(ctx, []string{
		"-i", audioPath,
		"-af", filter,
		"-f", "null", "-",
	})
	if err != nil {
		return nil, fmt.Errorf("silencedetect: %w", err)
	}

	silences := parseSilences(stderr, duration)
	return complement(silences, duration), nil
}

// parseSilences extracts [silence_start, silence_end) intervals from
// silencedetect stderr output. A trailing silence_start without a matching
// silence_end runs to the end of the waveform.
func parseSilences(stderr string, duration float64) []Segment {
	var silences []Segment
	open := -1.0
	for _, line := range strings.Split(stderr, "\n") {
		if v, ok := fieldAfter(line, "silence_start:"); ok {
			open = v
		} else if v, ok := fieldAfter(line, "silence_end:"); ok && open >= 0 {
			silences = append(silences, Segment{Start: open, End: v})
			open = -1
		}
	}
	if open >= 0 && open < duration {
		silences = append(silences, Segment{Start: open, End: duration})
	}
	return silences
}

func fieldAfter(line, key string) (float64, bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[idx+len(key):])
	if sp := strings.IndexAny(rest, " |"); sp >= 0 {
		rest = rest[:sp]
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// complement returns the non-silent intervals of [0, duration).
func complement(silences []Segment, duration float64) []Segment {
	var speech []Segment
	cursor := 0.0
	for _, s := range silences {
		if s.Start > cursor {
			speech = append(speech, Segment{Start: cursor, End: s.Start})
		}
		if s.End > cursor {
			cursor = s.End
		}
	}
	if cursor < duration {
		speech = append(speech, Segment{Start: cursor, End: duration})
	}
	return speech
}
