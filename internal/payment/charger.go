package payment

import "context"

// Outcome classifies a charge attempt.
type Outcome string

const (
	OutcomeSucceeded         Outcome = "succeeded"
	OutcomePermanentlyFailed Outcome = "permanently_failed"
	OutcomeTransientlyFailed Outcome = "transiently_failed"
)

// FailureKind is the processor's failure classification, carried as a typed
// value so callers never branch on error-message text.
type FailureKind string

const (
	FailureNone                 FailureKind = ""
	FailureCardDeclined         FailureKind = "card_declined"
	FailureInsufficientFunds    FailureKind = "insufficient_funds"
	FailureInvalidPaymentMethod FailureKind = "invalid_payment_method"
	FailureTransient            FailureKind = "transient"
)

// ChargeRequest describes one combined charge for a print order batch.
type ChargeRequest struct {
	Amount         int64 // minor currency units
	Currency       string
	PaymentMethod  string // previously captured, not charged, at checkout time
	IdempotencyKey string // derived from the fulfiller order id
	Description    string
}

// ChargeResult is the typed outcome of a charge attempt.
type ChargeResult struct {
	Outcome          Outcome
	FailureKind      FailureKind
	PaymentReference string // processor charge id when Outcome is succeeded
	Message          string // processor-provided detail, logging only
}

// Charger performs the deferred charge against the payment processor. The
// idempotency key makes repeated attempts for the same production
// confirmation collapse to one real charge.
//
// Transport-level failures are reported in the result as transient, not as an
// error; the error return is reserved for request construction problems.
type Charger interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
}
