package diarize

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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	diarizeTimeout = 30 * time.Minute
	maxRetries     = 3
)

// HTTPBackend posts the full waveform to a pyannote-style diarization server.
// The bearer token is read from the environment at call time so a missing
// credential fails before any network traffic.
type HTTPBackend struct {
	baseURL    string
	tokenEnv   string
	httpClient *http.Client
}

// NewHTTPBackend returns a backend for the server at baseURL, authenticating
// with the token found in the tokenEnv environment variable.
func NewHTTPBackend(baseURL, tokenEnv string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokenEnv:   tokenEnv,
		httpClient: &http.Client{Timeout: diarizeTimeout},
	}
}

type wireSpan struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

type wireResponse struct {
	Segments []wireSpan `json:"segments"`
}

func (b *HTTPBackend) Diarize(ctx context.Context, audioPath string) ([]Span, error) {
	token := os.Getenv(b.tokenEnv)
	if token == "" {
		return nil, &TokenError{EnvVar: b.tokenEnv}
	}

	var spans []Span
	operation := func() error {
		var err error
		spans, err = b.post(ctx, audioPath, token)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return spans, nil
}

func (b *HTTPBackend) post(ctx context.Context, audioPath, token string) ([]Span, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("open audio: %w", err))
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer mw.Close()

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(audioPath)))
		h.Set("Content-Type", "audio/wav")
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/diarize", pr)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// Network errors are transient; leave them retryable.
		return nil, fmt.Errorf("diarization request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return nil, backoff.Permanent(fmt.Errorf("multipart write error: %w", writeErr))
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		detail := strings.TrimSpace(string(body))
		switch {
		case resp.StatusCode == http.StatusInsufficientStorage ||
			strings.Contains(strings.ToLower(detail), "out of memory"):
			return nil, backoff.Permanent(&OOMError{Detail: detail})
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("diarization server status %d: %s", resp.StatusCode, detail)
		default:
			return nil, backoff.Permanent(fmt.Errorf("diarization server status %d: %s", resp.StatusCode, detail))
		}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}

	spans := make([]Span, 0, len(wire.Segments))
	for _, s := range wire.Segments {
		spans = append(spans, Span{Start: s.Start, End: s.End, Label: s.Speaker})
	}
	return spans, nil
}
