package ffmpeg

import "strings"

// ErrorClass categorizes a failed demux invocation. The values are serialized
// into failure sidecars, so they form a closed set.
type ErrorClass string

const (
	ClassFFmpegErr ErrorClass = "ffmpeg_err"
	ClassDecodeErr ErrorClass = "decode_err"
	ClassOOM       ErrorClass = "OOM"
	ClassCorrupted ErrorClass = "corrupted"
	ClassNoAudio   ErrorClass = "no_audio"
)

// classifyRules are checked in order; the first match wins. ClassFFmpegErr is
// the catch-all for anything unmatched.
var classifyRules = []struct {
	needles []string
	class   ErrorClass
}{
	{[]string{"out of memory", "cannot allocate"}, ClassOOM},
	{[]string{"invalid data", "corrupt", "moov atom not found"}, ClassCorrupted},
	{[]string{"does not contain any stream", "no audio"}, ClassNoAudio},
	{[]string{"error while decoding", "decode_slice"}, ClassDecodeErr},
}

// ClassifyStderr maps ffmpeg stderr output to an ErrorClass.
func ClassifyStderr(stderr string) ErrorClass {
	lower := strings.ToLower(stderr)
	for _, rule := range classifyRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.class
			}
		}
	}
	return ClassFFmpegErr
}
