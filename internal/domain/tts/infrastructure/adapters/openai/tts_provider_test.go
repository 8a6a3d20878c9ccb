package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"narrator-server-go/internal/domain/tts/inter"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/", MaxTextLength: 4096}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSynthesizeSendsSpeechRequest(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	})

	buf, err := p.Synthesize(context.Background(), inter.Request{
		Text: "hello", Model: "tts-1", Voice: "nova", Speed: 1.5, Format: "mp3",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(buf.Data) != "ID3-audio" || buf.MIMEType != "audio/mpeg" {
		t.Fatalf("unexpected buffer %+v", buf)
	}
	if body["input"] != "hello" || body["voice"] != "nova" || body["model"] != "tts-1" || body["speed"] != 1.5 {
		t.Fatalf("unexpected request body %v", body)
	}
}

func TestSynthesizeClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api error json", http.StatusInternalServerError, `{"error":{"message":"upstream exploded","type":"server_error"}}`},
		{"plain text body", http.StatusBadRequest, `bad voice`},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.Synthesize(context.Background(), inter.Request{Text: "x", Model: "tts-1", Voice: "alloy", Speed: 1})
			var statusErr *inter.StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected status error, got %T %v", err, err)
			}
			if statusErr.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", statusErr.StatusCode, tt.status)
			}
			if statusErr.Message == "" {
				t.Fatal("message should not be empty")
			}
		})
	}
}

func TestSynthesizeValidatesLocally(t *testing.T) {
	calls := 0
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) { calls++ })
	p.cfg.MaxTextLength = 3

	for _, text := range []string{"   ", "toolong"} {
		_, err := p.Synthesize(context.Background(), inter.Request{Text: text, Voice: "alloy"})
		var statusErr *inter.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %v", text, err)
		}
	}
	if calls != 0 {
		t.Fatalf("invalid input must not reach the endpoint, got %d calls", calls)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error without api key")
	}
}
