package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

func TestAmountInCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10", 1000},
		{"0.05", 5},
		{"0.125", 13},
		{"12.3449", 1234},
	}
	for _, tt := range tests {
		if got := AmountInCents(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Fatalf("%s: got=%d want=%d", tt.in, got, tt.want)
		}
	}
}

func TestHTTPGatewayCreateIntent(t *testing.T) {
	var gotBody intentBody
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "pi_123", "checkout_url": "https://pay.example/c/pi_123"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test", "usd", time.Second)
	intent, err := g.CreateIntent(context.Background(), IntentRequest{
		PurchaseID: "p1", WorkspaceID: "ws", Amount: decimal.RequireFromString("12.50"), IdempotencyKey: "p1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if intent.ID != "pi_123" || intent.CheckoutURL == "" {
		t.Fatalf("intent=%+v", intent)
	}
	if gotAuth != "Bearer sk_test" || gotKey != "p1" {
		t.Fatalf("auth=%q key=%q", gotAuth, gotKey)
	}
	if gotBody.Amount != 1250 || gotBody.Metadata["purchase_id"] != "p1" {
		t.Fatalf("body=%+v", gotBody)
	}
}

func TestHTTPGatewayErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	g := NewHTTPGateway(srv.URL, "k", "", time.Second)
	if _, err := g.CreateIntent(context.Background(), IntentRequest{Amount: decimal.NewFromInt(1)}); err == nil {
		t.Fatal("expected error")
	}
}

func TestHTTPGatewayUnconfigured(t *testing.T) {
	g := NewHTTPGateway("", "", "", 0)
	if _, err := g.CreateIntent(context.Background(), IntentRequest{}); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestHandoffRoundTrip(t *testing.T) {
	s, err := NewHandoffSigner("secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := s.Issue("p1", "ws", "1.25", "pi_1")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.Parse(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.PurchaseID != "p1" || claims.WorkspaceID != "ws" || claims.Amount != "1.25" || claims.PaymentIntent != "pi_1" {
		t.Fatalf("claims=%+v", claims)
	}

	other, _ := NewHandoffSigner("other", time.Minute)
	if _, err := other.Parse(tok); err == nil {
		t.Fatal("token accepted with wrong secret")
	}
}

func TestHandoffExpired(t *testing.T) {
	s, _ := NewHandoffSigner("secret", time.Minute)
	issued := time.Now()
	s.now = func() time.Time { return issued }
	tok, _ := s.Issue("p1", "ws", "1", "")
	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := s.Parse(tok); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("err=%v", err)
	}
}
