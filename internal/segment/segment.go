package segment

import (
	"fmt"
	"math"
)

// Segment is a half-open time interval [Start, End) of the normalized
// waveform, in seconds.
type Segment struct {
	Start float64
	End   float64
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Validate checks the pipeline ordering invariants: every segment strictly
// positive, sequence start-ascending and non-overlapping.
func Validate(segs []Segment) error {
	for i, s := range segs {
		if s.Start >= s.End {
			return fmt.Errorf("segment %d: start %.3f >= end %.3f", i, s.Start, s.End)
		}
		if i > 0 && segs[i-1].End > s.Start {
			return fmt.Errorf("segment %d overlaps previous (%.3f > %.3f)", i, segs[i-1].End, s.Start)
		}
	}
	return nil
}

// Fixed cuts a waveform of the given duration into consecutive chunks of
// chunkSec. The final chunk may be shorter.
func Fixed(duration, chunkSec float64) []Segment {
	if duration <= 0 || chunkSec <= 0 {
		return nil
	}
	var segs []Segment
	for start := 0.0; start < duration; start += chunkSec {
		end := math.Min(start+chunkSec, duration)
		segs = append(segs, Segment{Start: start, End: end})
	}
	return segs
}

// VADOptions tunes voice-activity segmentation.
type VADOptions struct {
	MinSpanSec   float64
	MaxSpanSec   float64
	MergeGapSec  float64
	SpeechPadSec float64
}

// VAD turns raw detector speech spans into final segments: adjacent spans
// closer than the merge gap are joined, spans over the cap are split at the
// nearest internal silence point (hard split when none exists), spans under
// the minimum are dropped, and each span gets a leading speech pad clamped at
// zero and at the previous span's end.
func VAD(raw []Segment, opts VADOptions) []Segment {
	if len(raw) == 0 {
		return nil
	}

	var out []Segment
	for _, group := range mergeGroups(raw, opts.MergeGapSec) {
		out = append(out, splitAtCap(group, opts.MaxSpanSec)...)
	}

	filtered := out[:0]
	for _, s := range out {
		if s.Duration() >= opts.MinSpanSec {
			filtered = append(filtered, s)
		}
	}

	for i := range filtered {
		floor := 0.0
		if i > 0 {
			floor = filtered[i-1].End
		}
		filtered[i].Start = math.Max(floor, filtered[i].Start-opts.SpeechPadSec)
	}
	return filtered
}

// group is a run of raw spans whose inter-span gaps are all under the merge
// gap. Internal boundaries are kept as silence candidates for cap-splitting.
type group struct {
	span       Segment
	silencePts []float64
}

func mergeGroups(raw []Segment, mergeGap float64) []group {
	var groups []group
	cur := group{span: raw[0]}
	for _, s := range raw[1:] {
		if s.Start-cur.span.End < mergeGap {
			cur.silencePts = append(cur.silencePts, (cur.span.End+s.Start)/2)
			cur.span.End = s.End
			continue
		}
		groups = append(groups, cur)
		cur = group{span: s}
	}
	return append(groups, cur)
}

// splitAtCap walks the group left to right, cutting at the latest silence
// candidate inside each cap window, or hard-splitting at the cap when no
// candidate lies inside it.
func splitAtCap(g group, maxSpan float64) []Segment {
	var pieces []Segment
	start := g.span.Start
	for g.span.End-start > maxSpan {
		cut := start + maxSpan
		for _, pt := range g.silencePts {
			if pt > start && pt <= start+maxSpan {
				cut = pt
			}
		}
		pieces = append(pieces, Segment{Start: start, End: cut})
		start = cut
	}
	return append(pieces, Segment{Start: start, End: g.span.End})
}
