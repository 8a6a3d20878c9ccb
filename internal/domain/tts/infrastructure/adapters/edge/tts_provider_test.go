package edge

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"narrator-server-go/internal/domain/tts/inter"

	"github.com/wujunwei928/edge-tts-go/edge_tts"
)

func TestRateFromSpeed(t *testing.T) {
	tests := []struct {
		speed float64
		want  string
	}{
		{1, "+0%"},
		{0, "+0%"},
		{1.25, "+25%"},
		{0.5, "-50%"},
		{2, "+100%"},
	}
	for _, tt := range tests {
		if got := RateFromSpeed(tt.speed); got != tt.want {
			t.Fatalf("RateFromSpeed(%v) = %q, want %q", tt.speed, got, tt.want)
		}
	}
}

func TestSynthesizeUsesStream(t *testing.T) {
	p := New(Config{}, nil)
	var gotText string
	p.stream = func(text string, opts ...edge_tts.CommunicateOption) ([]byte, error) {
		gotText = text
		return []byte("mp3"), nil
	}

	buf, err := p.Synthesize(context.Background(), inter.Request{Text: "你好", Speed: 1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotText != "你好" || string(buf.Data) != "mp3" || buf.MIMEType != "audio/mpeg" {
		t.Fatalf("unexpected result %q %+v", gotText, buf)
	}
}

func TestSynthesizeRejectsLongInput(t *testing.T) {
	p := New(Config{MaxTextLength: 3}, nil)
	_, err := p.Synthesize(context.Background(), inter.Request{Text: "abcd"})
	var statusErr *inter.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	p := New(Config{}, nil)
	p.stream = func(string, ...edge_tts.CommunicateOption) ([]byte, error) {
		return nil, errors.New("connection reset")
	}
	for i := 0; i < 5; i++ {
		if _, err := p.Synthesize(context.Background(), inter.Request{Text: "x"}); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := p.Synthesize(context.Background(), inter.Request{Text: "x"})
	var statusErr *inter.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected open circuit, got %v", err)
	}
}
