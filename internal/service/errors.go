package service

import (
	"errors"
	"fmt"
	"log"

	"storefront/backend/internal/domain"
)

var (
	ErrForbidden        = errors.New("admin role required")
	ErrValidationFailed = errors.New("validation failed")
	ErrPaymentFailed    = errors.New("payment failed")
	ErrPaymentCancelled = errors.New("payment cancelled")
	ErrPersistFailed    = errors.New("persist failed")
)

// TransactionError is returned by the checkout and sale sequences. Kind is one
// of the Err* sentinels above; State is where the sequence stopped.
type TransactionError struct {
	State     domain.TxState
	Kind      error
	Detail    string
	ProductID string
	Size      string
	Cause     error
}

func (e *TransactionError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *TransactionError) Is(target error) bool {
	return target == e.Kind
}

func (e *TransactionError) Unwrap() error {
	return e.Cause
}

// txn tracks one checkout or sale through the orchestrator states.
type txn struct {
	kind  string
	ref   string
	state domain.TxState
}

func newTxn(kind string) *txn {
	return &txn{kind: kind, state: domain.TxValidating}
}

func (t *txn) advance(to domain.TxState) {
	if !domain.CanAdvance(t.state, to) {
		log.Printf("[orchestrator] ERROR: illegal %s transition %s -> %s ref=%s", t.kind, t.state, to, t.ref)
	}
	t.state = to
}

func (t *txn) fail(to domain.TxState, kind error, detail string, cause error) *TransactionError {
	t.advance(to)
	return &TransactionError{State: to, Kind: kind, Detail: detail, Cause: cause}
}

func (t *txn) reject(detail string, cause error) *TransactionError {
	return t.fail(domain.TxValidationFailed, ErrValidationFailed, detail, cause)
}
