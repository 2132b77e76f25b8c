package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"dashscribe/internal/transcribe"
)

// FileMeta describes the transcript's source for the TXT header and the JSON
// document.
type FileMeta struct {
	VideoRel string
	Mode     string // segmentation mode the transcript came from
}

// WriteTXT renders the always-on plain text transcript: a small header, then
// one timestamped line per segment.
func WriteTXT(path string, meta FileMeta, segs []transcribe.TranscriptSegment) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# file: %s\n", meta.VideoRel)
	fmt.Fprintf(&b, "# language: %s\n", fileLanguage(segs))
	fmt.Fprintf(&b, "# segmentation: %s\n\n", meta.Mode)

	for _, s := range segs {
		text := s.Text
		if s.Speaker != "" {
			text = s.Speaker + ": " + text
		}
		fmt.Fprintf(&b, "[%s - %s] %s\n", formatClockTime(s.Start), formatClockTime(s.End), text)
	}

	if err := AtomicWrite(path, []byte(b.String())); err != nil {
		return fmt.Errorf("write txt: %w", err)
	}
	return nil
}

// segmentDoc is one entry of the JSON transcript document.
type segmentDoc struct {
	Index        int               `json:"seg_idx"`
	Start        float64           `json:"start_s"`
	End          float64           `json:"end_s"`
	Text         string            `json:"text"`
	Language     string            `json:"language"`
	LanguageProb float64           `json:"language_confidence"`
	Confidence   float64           `json:"confidence"`
	Speaker      *string           `json:"speaker"`
	Words        []transcribe.Word `json:"words"`
}

type document struct {
	Video        string       `json:"video"`
	Mode         string       `json:"segmentation_mode"`
	Language     string       `json:"language"`
	LanguageProb float64      `json:"language_confidence"`
	Text         string       `json:"text"`
	Segments     []segmentDoc `json:"segments"`
}

// WriteJSON renders the always-on full transcript document.
func WriteJSON(path string, meta FileMeta, segs []transcribe.TranscriptSegment) error {
	doc := document{
		Video:    meta.VideoRel,
		Mode:     meta.Mode,
		Language: fileLanguage(segs),
		Segments: make([]segmentDoc, 0, len(segs)),
	}

	var texts []string
	for _, s := range segs {
		if s.Text != "" {
			texts = append(texts, s.Text)
		}
		sd := segmentDoc{
			Index:        s.Index,
			Start:        s.Start,
			End:          s.End,
			Text:         s.Text,
			Language:     s.Language,
			LanguageProb: s.LanguageProb,
			Confidence:   s.Confidence,
			Words:        s.Words,
		}
		if s.Speaker != "" {
			spk := s.Speaker
			sd.Speaker = &spk
		}
		doc.Segments = append(doc.Segments, sd)
	}
	doc.Text = strings.Join(texts, " ")
	if len(segs) > 0 {
		doc.LanguageProb = segs[0].LanguageProb
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript document: %w", err)
	}
	if err := AtomicWrite(path, data); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteSRT validates (with one clamp pass) and renders numbered SRT cues.
// Assigned speakers become a "spkX: " text prefix.
func WriteSRT(path string, cues []Cue) error {
	final, err := Finalize(cues)
	if err != nil {
		return fmt.Errorf("srt: %w", err)
	}

	var b strings.Builder
	for i, c := range final {
		text := c.Text
		if c.Speaker != "" {
			text = c.Speaker + ": " + text
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTime(c.Start), formatSRTTime(c.End), text)
	}

	if err := AtomicWrite(path, []byte(b.String())); err != nil {
		return fmt.Errorf("write srt: %w", err)
	}
	return nil
}

// WriteVTT validates (with one clamp pass) and renders WebVTT cues. Assigned
// speakers become <v spkX> voice spans.
func WriteVTT(path string, cues []Cue) error {
	final, err := Finalize(cues)
	if err != nil {
		return fmt.Errorf("vtt: %w", err)
	}

	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, c := range final {
		text := c.Text
		if c.Speaker != "" {
			text = fmt.Sprintf("<v %s>%s", c.Speaker, text)
		}
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", formatVTTTime(c.Start), formatVTTTime(c.End), text)
	}

	if err := AtomicWrite(path, []byte(b.String())); err != nil {
		return fmt.Errorf("write vtt: %w", err)
	}
	return nil
}

func fileLanguage(segs []transcribe.TranscriptSegment) string {
	if len(segs) == 0 {
		return ""
	}
	return segs[0].Language
}
