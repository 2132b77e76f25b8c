package transcribe

import "context"

// Word is one recognized word with absolute video-time bounds.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start_s"`
	End        float64 `json:"end_s"`
	Confidence float64 `json:"confidence"`
}

// Result is a recognizer's output for one segment. Word times are relative
// to the segment's own start.
type Result struct {
	Text         string
	Words        []Word
	Language     string
	LanguageProb float64
}

// Options selects the recognition task and the slice of the waveform to run.
type Options struct {
	Task     string  // "transcribe" or "translate"
	Language string  // empty means detect
	Start    float64 // slice offset into the waveform, seconds
	Duration float64
}

// Recognizer runs speech-to-text over a slice of a waveform file.
type Recognizer interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)
}

// TranscriptSegment is a segment with recognized text anchored to the video
// timeline. Speaker is empty until diarization assigns one.
type TranscriptSegment struct {
	Index        int
	Start        float64
	End          float64
	Text         string
	Words        []Word
	Language     string
	LanguageProb float64
	Confidence   float64
	Speaker      string
}
