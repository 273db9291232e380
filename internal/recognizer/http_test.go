package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/meetscribe/internal/archive"
	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/resilience"
)

func fastHTTPRetry() HTTPOption {
	return WithHTTPRetry(resilience.RetryConfig{
		MaxRetries:  2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		IsRetryable: resilience.IsRetryableHTTP,
	})
}

func TestHTTPTranscribe(t *testing.T) {
	want, _ := archive.EncodeWAV([]int16{1, 2, 3}, 16000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" || r.Method != http.MethodPost {
			t.Errorf("request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		if r.FormValue("model") != "whisper-large" || r.FormValue("language") != "ru" {
			t.Errorf("form model=%q language=%q", r.FormValue("model"), r.FormValue("language"))
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		got, _ := io.ReadAll(f)
		if !bytes.Equal(got, want) {
			t.Error("uploaded wav differs from encoded segment")
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "добрый вечер"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/v1/", "sk-test", WithModel("whisper-large"), WithHTTPLanguage("ru"))
	text, err := c.Transcribe(context.Background(), []int16{1, 2, 3}, 16000)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "добрый вечер" {
		t.Errorf("text = %q", text)
	}
}

func TestHTTPRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", fastHTTPRetry())
	text, err := c.Transcribe(context.Background(), []int16{1}, 16000)
	if err != nil || text != "ok" {
		t.Fatalf("Transcribe() = %q, %v", text, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestHTTPClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", fastHTTPRetry())
	_, err := c.Transcribe(context.Background(), []int16{1}, 16000)
	if !apperrors.IsCode(err, apperrors.CodeRecognizer) {
		t.Errorf("error = %v, want RECOGNIZER", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
