package index

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// GlobalName is the merged index file written by Consolidate.
const GlobalName = "INDEX.csv"

// header is the CSV column order, shared by shards and the global index.
var header = []string{
	"video_rel", "seg_idx", "date", "video_stem", "lang", "conf",
	"speaker", "text_truncated", "full_text_ref", "created_utc",
}

// maxTextRunes bounds the text_truncated column.
const maxTextRunes = 512

// Record is one index row. (VideoRel, SegIdx) is the composite key; its
// uniqueness holds only in the merged global index, never in a single shard.
type Record struct {
	VideoRel      string
	SegIdx        int
	Date          string
	VideoStem     string
	Lang          string
	Conf          float64
	Speaker       string
	TextTruncated string
	FullTextRef   string
	CreatedUTC    time.Time
}

func (r Record) fields() []string {
	return []string{
		r.VideoRel,
		strconv.Itoa(r.SegIdx),
		r.Date,
		r.VideoStem,
		r.Lang,
		strconv.FormatFloat(r.Conf, 'f', 4, 64),
		r.Speaker,
		r.TextTruncated,
		r.FullTextRef,
		r.CreatedUTC.UTC().Format(time.RFC3339Nano),
	}
}

func recordFromFields(fields []string) (Record, error) {
	if len(fields) != len(header) {
		return Record{}, fmt.Errorf("row has %d fields, want %d", len(fields), len(header))
	}
	segIdx, err := strconv.Atoi(fields[1])
	if err != nil {
		return Record{}, fmt.Errorf("seg_idx %q: %w", fields[1], err)
	}
	conf, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return Record{}, fmt.Errorf("conf %q: %w", fields[5], err)
	}
	created, err := time.Parse(time.RFC3339Nano, fields[9])
	if err != nil {
		return Record{}, fmt.Errorf("created_utc %q: %w", fields[9], err)
	}
	return Record{
		VideoRel:      fields[0],
		SegIdx:        segIdx,
		Date:          fields[2],
		VideoStem:     fields[3],
		Lang:          fields[4],
		Conf:          conf,
		Speaker:       fields[6],
		TextTruncated: fields[7],
		FullTextRef:   fields[8],
		CreatedUTC:    created,
	}, nil
}

// Truncate bounds text to the index column limit, rune-safe.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxTextRunes {
		return text
	}
	return string(runes[:maxTextRunes])
}

var dateRun = regexp.MustCompile(`\d{8}`)

// DateFromRel extracts the dashcam capture date: the first 8-digit run in
// the video's relative path, empty when absent.
func DateFromRel(rel string) string {
	return dateRun.FindString(rel)
}
