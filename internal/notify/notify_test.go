package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/signing"
)

func TestWebhookSenderSignsBody(t *testing.T) {
	body := []byte(`{"event":"purchase.completed"}`)
	var verifyErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		codec, _ := signing.New("whsec")
		verifyErr = codec.Verify(r.Header.Get(signing.HeaderName), raw)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	code, err := NewWebhookSender(time.Second).Send(context.Background(), srv.URL, "whsec", body)
	if err != nil || code != http.StatusNoContent {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if verifyErr != nil {
		t.Fatalf("receiver rejected signature: %v", verifyErr)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	code, err := NewWebhookSender(time.Second).Send(context.Background(), srv.URL, "s", []byte("{}"))
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable || code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d err=%v", code, err)
	}
}

func TestWebhookSenderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	if _, err := NewWebhookSender(50*time.Millisecond).Send(context.Background(), srv.URL, "s", []byte("{}")); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "t", nil); err == nil {
		t.Fatal("expected error")
	}
}
