package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const handoffIssuer = "leadmarket"

// HandoffClaims ties a checkout redirect to one pending purchase.
type HandoffClaims struct {
	PurchaseID    string `json:"pid"`
	WorkspaceID   string `json:"wid"`
	Amount        string `json:"amt"`
	PaymentIntent string `json:"pi"`
	jwt.RegisteredClaims
}

type HandoffSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewHandoffSigner(secret string, ttl time.Duration) (*HandoffSigner, error) {
	if secret == "" {
		return nil, errors.New("handoff secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &HandoffSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *HandoffSigner) Issue(purchaseID, workspaceID, amount, intentID string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, HandoffClaims{
		PurchaseID:    purchaseID,
		WorkspaceID:   workspaceID,
		Amount:        amount,
		PaymentIntent: intentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    handoffIssuer,
			Subject:   purchaseID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return token.SignedString(s.secret)
}

func (s *HandoffSigner) Parse(tokenStr string) (*HandoffClaims, error) {
	claims := &HandoffClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(handoffIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse handoff token: %w", err)
	}
	return claims, nil
}
