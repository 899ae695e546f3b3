// Package payment talks to the card/UPI payment gateway. The orchestrator only
// depends on the Gateway interface; HMACGateway is the signature scheme used
// by the hosted checkout (signature = HMAC-SHA256(intent_id|payment_id)).
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/backend/internal/xid"
)

var (
	ErrInvalidAmount = errors.New("invalid payment amount")
	ErrWeakSecret    = errors.New("payment gateway secret must be at least 32 characters")
)

type Intent struct {
	ID          string    `json:"id"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Receipt     string    `json:"receipt"`
	CreatedAt   time.Time `json:"created_at"`
}

type SignaturePayload struct {
	IntentID  string
	PaymentID string
	Signature string
}

type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, receipt string) (Intent, error)
	Verify(ctx context.Context, payload SignaturePayload) (bool, error)
}

type HMACGateway struct {
	secret []byte
	now    func() time.Time
}

func NewHMACGateway(secret string) (*HMACGateway, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	return &HMACGateway{secret: []byte(secret), now: time.Now}, nil
}

func (g *HMACGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string, receipt string) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	if amountMinor < 1 {
		return Intent{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amountMinor)
	}
	return Intent{
		ID:          xid.New("pi"),
		AmountMinor: amountMinor,
		Currency:    strings.ToUpper(currency),
		Receipt:     receipt,
		CreatedAt:   g.now().UTC(),
	}, nil
}

func (g *HMACGateway) Verify(ctx context.Context, payload SignaturePayload) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if payload.IntentID == "" || payload.PaymentID == "" || payload.Signature == "" {
		return false, nil
	}
	expected := g.Sign(payload.IntentID, payload.PaymentID)
	return hmac.Equal([]byte(strings.ToLower(payload.Signature)), []byte(expected)), nil
}

// Sign produces the signature the hosted checkout returns on success.
func (g *HMACGateway) Sign(intentID string, paymentID string) string {
	h := hmac.New(sha256.New, g.secret)
	_, _ = h.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}
