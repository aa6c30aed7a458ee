package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KamdynS/advisor/llm"
)

func TestTransportError_Temporary(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{0, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusPaymentRequired, false},
	}
	for _, tc := range cases {
		if got := (&TransportError{StatusCode: tc.status}).Temporary(); got != tc.want {
			t.Fatalf("status %d: Temporary=%v want %v", tc.status, got, tc.want)
		}
	}
}

func TestHTTPTransport_ErrorBodyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()
	tr, err := NewHTTPTransport(HTTPConfig{URL: srv.URL, Retry: llm.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond}})
	if err != nil {
		t.Fatalf("NewHTTPTransport: %v", err)
	}
	_, err = tr.Open(context.Background(), &StreamRequest{Mode: "quick_question"})
	var te *TransportError
	if !errors.As(err, &te) || te.Message != "Forbidden" {
		t.Fatalf("got %v", err)
	}
}

func TestNewHTTPTransport_RequiresURL(t *testing.T) {
	if _, err := NewHTTPTransport(HTTPConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
