package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult holds stream metadata from ffprobe. Raw keeps the unparsed JSON
// so failure sidecars can embed the full probe output.
type ProbeResult struct {
	Duration float64
	HasAudio bool
	Codec    string
	Raw      json.RawMessage
}

// Available returns true if ffmpeg is on the PATH.
func Available() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// probeOutput mirrors ffprobe JSON structure.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// Probe uses ffprobe to get duration and audio-stream presence for a video.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	cmd := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "error",
		"-show_entries", "stream=codec_type,codec_name:format=duration",
		"-of", "json",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}

	dur, _ := strconv.ParseFloat(probe.Format.Duration, 64)

	res := &ProbeResult{Duration: dur, Raw: json.RawMessage(out)}
	for _, s := range probe.Streams {
		if s.CodecType == "audio" {
			res.HasAudio = true
			res.Codec = s.CodecName
			break
		}
	}
	return res, nil
}

// Runner executes an ffmpeg invocation and returns its stderr output. The
// extraction tiers go through this so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, args []string) (stderr string, err error)
}

// ExecRunner runs the real ffmpeg binary.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// IsVideoExtension returns true for the supported video container extensions.
func IsVideoExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp4", ".mov", ".mkv", ".avi", ".webm", ".m4v":
		return true
	}
	return false
}
