package segment

import (
	"math"
	"testing"
)

func TestFixed(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		chunk    float64
		want     []Segment
	}{
		{
			name:     "exact multiple",
			duration: 60, chunk: 30,
			want: []Segment{{0, 30}, {30, 60}},
		},
		{
			name:     "short tail",
			duration: 70, chunk: 30,
			want: []Segment{{0, 30}, {30, 60}, {60, 70}},
		},
		{
			name:     "shorter than chunk",
			duration: 12, chunk: 30,
			want: []Segment{{0, 12}},
		},
		{
			name:     "zero duration",
			duration: 0, chunk: 30,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fixed(tt.duration, tt.chunk)
			assertSegments(t, got, tt.want)
			if err := Validate(got); err != nil {
				t.Errorf("invariant violated: %v", err)
			}
		})
	}
}

func defaultVADOpts() VADOptions {
	return VADOptions{MinSpanSec: 2, MaxSpanSec: 60, MergeGapSec: 0.3, SpeechPadSec: 0.2}
}

func TestVADMergesCloseSpans(t *testing.T) {
	raw := []Segment{{1, 5}, {5.1, 10}, {15, 20}}
	got := VAD(raw, defaultVADOpts())
	// First two spans are 0.1s apart and merge; the third stays separate.
	want := []Segment{{0.8, 10}, {14.8, 20}}
	assertSegments(t, got, want)
}

func TestVADDropsShortSpans(t *testing.T) {
	raw := []Segment{{1, 1.5}, {10, 20}}
	got := VAD(raw, defaultVADOpts())
	want := []Segment{{9.8, 20}}
	assertSegments(t, got, want)
}

func TestVADSplitsAtSilencePoint(t *testing.T) {
	// Two spans 0.2s apart merge into [0, 90.2); the internal silence point
	// at 50.1 lands inside the 60s cap window, so the split uses it instead
	// of a hard cut at 60.
	raw := []Segment{{0, 50}, {50.2, 90.2}}
	got := VAD(raw, defaultVADOpts())
	want := []Segment{{0, 50.1}, {50.1, 90.2}}
	assertSegments(t, got, want)
}

func TestVADHardSplitWithoutSilencePoint(t *testing.T) {
	raw := []Segment{{0, 130}}
	got := VAD(raw, defaultVADOpts())
	want := []Segment{{0, 60}, {60, 120}, {120, 130}}
	assertSegments(t, got, want)
}

func TestVADPadNeverOverlapsPrevious(t *testing.T) {
	// Merge gap below the pad width, so the spans stay separate but the
	// second span's pad would reach into the first without the clamp.
	opts := VADOptions{MinSpanSec: 2, MaxSpanSec: 60, MergeGapSec: 0.05, SpeechPadSec: 0.2}
	raw := []Segment{{0.1, 5}, {5.1, 10}}
	got := VAD(raw, opts)
	if err := Validate(got); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
	// Pad on the first span clamps at zero, on the second at the first's end.
	if got[0].Start != 0 {
		t.Errorf("first start = %.3f, want 0 (clamped)", got[0].Start)
	}
	if got[1].Start != got[0].End {
		t.Errorf("second start = %.3f, want %.3f (clamped at previous end)", got[1].Start, got[0].End)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		segs    []Segment
		wantErr bool
	}{
		{"valid", []Segment{{0, 1}, {1, 2}}, false},
		{"empty", nil, false},
		{"inverted", []Segment{{2, 1}}, true},
		{"overlap", []Segment{{0, 1.5}, {1, 2}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.segs)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSilences(t *testing.T) {
	stderr := `[silencedetect @ 0x5555] silence_start: 4.5
[silencedetect @ 0x5555] silence_end: 6.25 | silence_duration: 1.75
[silencedetect @ 0x5555] silence_start: 28
`
	silences := parseSilences(stderr, 30)
	want := []Segment{{4.5, 6.25}, {28, 30}}
	assertSegments(t, silences, want)

	speech := complement(silences, 30)
	assertSegments(t, speech, []Segment{{0, 4.5}, {6.25, 28}})
}

func assertSegments(t *testing.T, got, want []Segment) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d segments %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if !approxEq(got[i].Start, want[i].Start) || !approxEq(got[i].End, want[i].End) {
			t.Errorf("segment %d = [%.3f, %.3f), want [%.3f, %.3f)",
				i, got[i].Start, got[i].End, want[i].Start, want[i].End)
		}
	}
}

func approxEq(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
