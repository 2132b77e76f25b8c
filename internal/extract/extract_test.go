package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dashscribe/internal/ffmpeg"
)

// scriptedRunner fails with the scripted stderr outputs in order, then
// succeeds on every later call.
type scriptedRunner struct {
	failures []string
	calls    [][]string
}

func (r *scriptedRunner) Run(_ context.Context, args []string) (string, error) {
	n := len(r.calls)
	r.calls = append(r.calls, args)
	if n < len(r.failures) {
		return r.failures[n], errors.New("exit status 1")
	}
	return "", nil
}

func audioProbe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	return &ffmpeg.ProbeResult{Duration: 30, HasAudio: true, Codec: "aac"}, nil
}

func newExtractor(r ffmpeg.Runner) *Extractor {
	return &Extractor{Runner: r, TierTimeout: time.Minute, ProbeFn: audioProbe}
}

func TestExtractPrimarySuccess(t *testing.T) {
	r := &scriptedRunner{}
	res, err := newExtractor(r).Extract(context.Background(), "/in/a.mp4", "/out/a")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected exactly one tier invocation, got %d", len(r.calls))
	}
	if res.AudioPath != "/out/a.wav" {
		t.Errorf("audio path = %q, want /out/a.wav", res.AudioPath)
	}
	if len(res.Attempts) != 0 {
		t.Errorf("expected no failed attempts, got %d", len(res.Attempts))
	}
}

func TestExtractTierOrder(t *testing.T) {
	r := &scriptedRunner{failures: []string{
		"Error while decoding stream #0:1",
		"some generic failure",
	}}
	res, err := newExtractor(r).Extract(context.Background(), "/in/a.mp4", "/out/a")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(res.Attempts))
	}
	wantOrder := []Tier{TierPrimary, TierCodecFallback}
	for i, a := range res.Attempts {
		if a.Tier != wantOrder[i] {
			t.Errorf("attempt %d tier = %s, want %s", i, a.Tier, wantOrder[i])
		}
	}
	if res.Attempts[0].Class != ffmpeg.ClassDecodeErr {
		t.Errorf("attempt 0 class = %s, want decode_err", res.Attempts[0].Class)
	}
	// Winner was the third tier; its args carry the demuxer flags.
	winning := r.calls[2]
	if !containsArg(winning, "+genpts") {
		t.Errorf("third invocation missing demuxer args: %v", winning)
	}
	if res.AudioPath != "/out/a.wav" {
		t.Errorf("audio path = %q", res.AudioPath)
	}
}

func TestExtractCodecFallbackProducesFlac(t *testing.T) {
	r := &scriptedRunner{failures: []string{"boom"}}
	res, err := newExtractor(r).Extract(context.Background(), "/in/a.mp4", "/out/a")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.AudioPath != "/out/a.flac" {
		t.Errorf("audio path = %q, want /out/a.flac", res.AudioPath)
	}
}

func TestExtractExhaustion(t *testing.T) {
	r := &scriptedRunner{failures: []string{
		"generic one",
		"generic two",
		"generic three",
		"moov atom not found",
	}}
	_, err := newExtractor(r).Extract(context.Background(), "/in/a.mp4", "/out/a")
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if len(f.Attempts) != 4 {
		t.Fatalf("attempts = %d, want 4", len(f.Attempts))
	}
	if f.Class != ffmpeg.ClassCorrupted {
		t.Errorf("failure class = %s, want corrupted", f.Class)
	}
	if f.Probe == nil || !f.Probe.HasAudio {
		t.Errorf("failure should embed the probe result")
	}
}

// stallRunner blocks its first invocation until the context expires, then
// succeeds on every later call.
type stallRunner struct {
	calls [][]string
}

func (r *stallRunner) Run(ctx context.Context, args []string) (string, error) {
	r.calls = append(r.calls, args)
	if len(r.calls) == 1 {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "", nil
}

func TestExtractTimeoutAdvancesTier(t *testing.T) {
	r := &stallRunner{}
	e := &Extractor{Runner: r, TierTimeout: 10 * time.Millisecond, ProbeFn: audioProbe}

	res, err := e.Extract(context.Background(), "/in/a.mp4", "/out/a")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(r.calls) != 2 {
		t.Fatalf("invocations = %d, want 2 (hung tier, then fallback)", len(r.calls))
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Tier != TierPrimary {
		t.Fatalf("attempts = %+v, want one failed primary attempt", res.Attempts)
	}
	if !strings.Contains(res.Attempts[0].Message, "timed out") {
		t.Errorf("attempt message = %q, want a timeout message", res.Attempts[0].Message)
	}
	if res.AudioPath != "/out/a.flac" {
		t.Errorf("audio path = %q, want the fallback tier's output", res.AudioPath)
	}
}

func TestExtractNoAudioShortCircuit(t *testing.T) {
	r := &scriptedRunner{}
	e := newExtractor(r)
	e.ProbeFn = func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
		return &ffmpeg.ProbeResult{Duration: 30, HasAudio: false}, nil
	}
	_, err := e.Extract(context.Background(), "/in/silent.mp4", "/out/silent")
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Class != ffmpeg.ClassNoAudio {
		t.Errorf("class = %s, want no_audio", f.Class)
	}
	if len(r.calls) != 0 {
		t.Errorf("no ffmpeg invocation expected, got %d", len(r.calls))
	}
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		stderr string
		want   ffmpeg.ErrorClass
	}{
		{"Cannot allocate memory", ffmpeg.ClassOOM},
		{"CUDA out of memory", ffmpeg.ClassOOM},
		{"Invalid data found when processing input", ffmpeg.ClassCorrupted},
		{"moov atom not found", ffmpeg.ClassCorrupted},
		{"Output file does not contain any stream", ffmpeg.ClassNoAudio},
		{"Error while decoding stream #0:1", ffmpeg.ClassDecodeErr},
		{"decode_slice_header error", ffmpeg.ClassDecodeErr},
		{"something else entirely", ffmpeg.ClassFFmpegErr},
		{"", ffmpeg.ClassFFmpegErr},
	}
	for _, tt := range tests {
		if got := ffmpeg.ClassifyStderr(tt.stderr); got != tt.want {
			t.Errorf("ClassifyStderr(%q) = %s, want %s", tt.stderr, got, tt.want)
		}
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if strings.Contains(a, want) {
			return true
		}
	}
	return false
}
