package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const inferenceTimeout = 15 * time.Minute

// Client talks to a local faster-whisper style model server. The server owns
// the loaded model weights; one Client per worker acts as that worker's model
// handle.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for the model server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: inferenceTimeout},
	}
}

// wire structs mirror the model server's JSON response.
type wireWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

type wireResponse struct {
	Text                string     `json:"text"`
	Language            string     `json:"language"`
	LanguageProbability float64    `json:"language_probability"`
	Words               []wireWord `json:"words"`
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

// Transcribe uploads the waveform slice described by opts and returns the
// recognized text with word timestamps relative to the slice start.
func (c *Client) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	// Build multipart form body using a pipe.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer mw.Close()

		fields := map[string]string{
			"task":            opts.Task,
			"start":           strconv.FormatFloat(opts.Start, 'f', 3, 64),
			"duration":        strconv.FormatFloat(opts.Duration, 'f', 3, 64),
			"word_timestamps": "true",
		}
		if opts.Language != "" {
			fields["language"] = opts.Language
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				errCh <- err
				return
			}
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(audioPath)))
		h.Set("Content-Type", mimeFromExt(filepath.Ext(audioPath)))
		part, err := mw.CreatePart(h)
		if err != nil {
			errCh <- err
			return
		}

		if _, err := io.Copy(part, f); err != nil {
			errCh <- err
			return
		}

		errCh <- nil
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcribe", pr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model server request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return nil, fmt.Errorf("multipart write error: %w", writeErr)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	res := &Result{
		Text:         strings.TrimSpace(wire.Text),
		Language:     wire.Language,
		LanguageProb: wire.LanguageProbability,
	}
	for _, w := range wire.Words {
		res.Words = append(res.Words, Word{
			Word:       w.Word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Probability,
		})
	}
	return res, nil
}
