package diarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"dashscribe/internal/segment"
)

// Span is one diarization interval in the backend's native label space.
type Span struct {
	Start float64
	End   float64
	Label string
}

// Backend produces raw speaker spans for a full waveform. Implementations
// vary in label vocabulary; consumers only see spans through Normalize.
type Backend interface {
	Diarize(ctx context.Context, audioPath string) ([]Span, error)
}

// TokenError means the backend credential was not configured. Raised before
// any network call.
type TokenError struct {
	EnvVar string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("diarization token missing: %s not set", e.EnvVar)
}

// OOMError means the backend ran out of memory processing the waveform.
type OOMError struct {
	Detail string
}

func (e *OOMError) Error() string {
	return fmt.Sprintf("diarization backend out of memory: %s", e.Detail)
}

// Policy selects the tie-break rule when two spans overlap a segment equally.
type Policy string

const (
	// PolicyEarliest breaks ties on the earliest span start.
	PolicyEarliest Policy = "overlap-earliest"
	// PolicyLongest breaks ties on the longest span.
	PolicyLongest Policy = "overlap-longest"
)

// Adapter is the pipeline-facing boundary: it runs the backend, normalizes
// labels, and assigns one speaker per segment. Backend failure is never
// fatal; it degrades to an empty assignment with a warning.
type Adapter struct {
	Backend    Backend
	MinSpanSec float64
	TieBreak   Policy
}

// Label returns one speaker label per segment, empty where no span overlaps
// or when the backend failed.
func (a *Adapter) Label(ctx context.Context, audioPath string, segs []segment.Segment) []string {
	spans, err := a.Backend.Diarize(ctx, audioPath)
	if err != nil {
		var tokenErr *TokenError
		var oomErr *OOMError
		switch {
		case errors.As(err, &tokenErr):
			slog.Warn("diarization skipped, credential missing",
				"audio", filepath.Base(audioPath), "env", tokenErr.EnvVar)
		case errors.As(err, &oomErr):
			slog.Warn("diarization skipped, backend out of memory",
				"audio", filepath.Base(audioPath), "detail", oomErr.Detail)
		default:
			slog.Warn("diarization failed, continuing without speakers",
				"audio", filepath.Base(audioPath), "err", err)
		}
		return make([]string, len(segs))
	}

	spans = filterShort(spans, a.MinSpanSec)
	spans = Normalize(spans)
	return Assign(segs, spans, a.TieBreak)
}

func filterShort(spans []Span, minDur float64) []Span {
	out := spans[:0]
	for _, s := range spans {
		if s.End-s.Start >= minDur {
			out = append(out, s)
		}
	}
	return out
}

// Normalize maps arbitrary raw labels to canonical sequential letters (spkA,
// spkB, ...) assigned in order of each label's first appearance. Deterministic
// and backend-independent.
func Normalize(spans []Span) []Span {
	canonical := make(map[string]string)
	out := make([]Span, len(spans))
	for i, s := range spans {
		name, ok := canonical[s.Label]
		if !ok {
			name = "spk" + letterSuffix(len(canonical))
			canonical[s.Label] = name
		}
		out[i] = Span{Start: s.Start, End: s.End, Label: name}
	}
	return out
}

// letterSuffix yields A..Z, then AA, AB, ... for speaker counts past 26.
func letterSuffix(n int) string {
	s := ""
	for {
		s = string(rune('A'+n%26)) + s
		n = n/26 - 1
		if n < 0 {
			return s
		}
	}
}

// Assign gives each segment the label of the span with the greatest temporal
// overlap, ties broken per policy. Segments no span touches stay unlabeled.
func Assign(segs []segment.Segment, spans []Span, policy Policy) []string {
	labels := make([]string, len(segs))
	for i, seg := range segs {
		var best Span
		bestOverlap := 0.0
		for _, sp := range spans {
			ov := overlap(seg, sp)
			if ov <= 0 {
				continue
			}
			switch {
			case ov > bestOverlap:
				best, bestOverlap = sp, ov
			case ov == bestOverlap && wins(sp, best, policy):
				best = sp
			}
		}
		if bestOverlap > 0 {
			labels[i] = best.Label
		}
	}
	return labels
}

func overlap(seg segment.Segment, sp Span) float64 {
	lo := seg.Start
	if sp.Start > lo {
		lo = sp.Start
	}
	hi := seg.End
	if sp.End < hi {
		hi = sp.End
	}
	return hi - lo
}

func wins(a, b Span, policy Policy) bool {
	if policy == PolicyLongest {
		return a.End-a.Start > b.End-b.Start
	}
	return a.Start < b.Start
}
