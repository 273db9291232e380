package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/GriffinCanCode/meetscribe/internal/archive"
	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/resilience"
	"github.com/GriffinCanCode/meetscribe/internal/trace"
)

// HTTPClient calls a Whisper-compatible /audio/transcriptions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	httpClient *http.Client
	breaker    *resilience.Breaker
	retry      resilience.RetryConfig
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithModel sets the model form field.
func WithModel(model string) HTTPOption {
	return func(c *HTTPClient) { c.model = model }
}

// WithHTTPLanguage sets the language form field.
func WithHTTPLanguage(lang string) HTTPOption {
	return func(c *HTTPClient) { c.language = lang }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithHTTPRetry overrides the retry policy.
func WithHTTPRetry(cfg resilience.RetryConfig) HTTPOption {
	return func(c *HTTPClient) { c.retry = cfg }
}

// NewHTTPClient creates a client for baseURL, e.g. "https://api.openai.com/v1".
func NewHTTPClient(baseURL, apiKey string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      DefaultHTTPModel,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		breaker:    resilience.New(resilience.RecognizerConfig("http-recognizer")),
		retry:      resilience.RecognizerRetryConfig(resilience.IsRetryableHTTP),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads pcm as a WAV file and returns the recognised text.
func (c *HTTPClient) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	wav, err := archive.EncodeWAV(pcm, sampleRate)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "encode wav")
	}

	text, err := resilience.ExecuteWithResult(c.breaker, func() (string, error) {
		var text string
		err := resilience.Retry(ctx, c.retry, func() error {
			var err error
			text, err = c.post(ctx, wav)
			return err
		})
		return text, err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return "", apperrors.Wrap(err, apperrors.CodeUnavailable, "recognizer circuit open")
		}
		return "", apperrors.Wrap(err, apperrors.CodeRecognizer, "http transcription")
	}
	return text, nil
}

func (c *HTTPClient) post(ctx context.Context, wav []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err = part.Write(wav); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if err = writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if c.language != "" {
		if err = writer.WriteField("language", c.language); err != nil {
			return "", fmt.Errorf("writing language field: %w", err)
		}
	}
	if err = writer.Close(); err != nil {
		return "", fmt.Errorf("closing writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	trace.InjectHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &resilience.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result transcriptionResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return result.Text, nil
}
