package output

import (
	"fmt"

	"dashscribe/internal/transcribe"
)

// minGapSec is the smallest allowed non-zero gap between consecutive cues.
// Anything smaller is a near-overlap and gets clamped to zero.
const minGapSec = 0.050

// Cue is one timed subtitle entry.
type Cue struct {
	Start   float64
	End     float64
	Text    string
	Speaker string
}

// CuesFromSegments maps transcript segments to subtitle cues, dropping
// segments with no text.
func CuesFromSegments(segs []transcribe.TranscriptSegment) []Cue {
	var cues []Cue
	for _, s := range segs {
		if s.Text == "" {
			continue
		}
		cues = append(cues, Cue{Start: s.Start, End: s.End, Text: s.Text, Speaker: s.Speaker})
	}
	return cues
}

// ValidateCues enforces the subtitle timing invariants: every cue start
// strictly before its end, cues strictly ordered and non-overlapping, and no
// gap under 50ms between consecutive cues.
func ValidateCues(cues []Cue) error {
	for i, c := range cues {
		if c.Start >= c.End {
			return fmt.Errorf("cue %d: start %.3f >= end %.3f", i+1, c.Start, c.End)
		}
		if i == 0 {
			continue
		}
		gap := c.Start - cues[i-1].End
		if gap < 0 {
			return fmt.Errorf("cue %d overlaps previous by %.3fs", i+1, -gap)
		}
		if gap > 0 && gap < minGapSec {
			return fmt.Errorf("cue %d: near-overlap gap of %.3fs", i+1, gap)
		}
	}
	return nil
}

// ClampCues repairs timing defects in one pass: sub-50ms gaps close by
// extending the previous cue's end, overlaps push the later cue's start
// forward. Defects the pass cannot repair are left for ValidateCues to catch.
func ClampCues(cues []Cue) []Cue {
	out := make([]Cue, len(cues))
	copy(out, cues)
	for i := 1; i < len(out); i++ {
		gap := out[i].Start - out[i-1].End
		switch {
		case gap > 0 && gap < minGapSec:
			out[i-1].End = out[i].Start
		case gap < 0:
			out[i].Start = out[i-1].End
		}
	}
	return out
}

// Finalize validates the cue sequence, applying one automatic clamp pass if
// needed. An error here is fatal for the format being written.
func Finalize(cues []Cue) ([]Cue, error) {
	if err := ValidateCues(cues); err == nil {
		return cues, nil
	}
	clamped := ClampCues(cues)
	if err := ValidateCues(clamped); err != nil {
		return nil, fmt.Errorf("cue validation failed after clamp pass: %w", err)
	}
	return clamped, nil
}
