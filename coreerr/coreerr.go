// Package coreerr defines the stable error taxonomy used across the core:
// mempool admission, block assembly, header validation, and external-block
// acceptance all return *Error values carrying a Kind clients can branch on
// plus diagnostic context for recovery.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error name. Clients match on Kind, not on the
// formatted message.
type Kind string

// Admission kinds.
const (
	BadFormat           Kind = "bad-format"
	BadVersion          Kind = "bad-version"
	FeeTooLow           Kind = "fee-too-low"
	MissingIO           Kind = "missing-io"
	BadInput            Kind = "bad-input"
	BadInputRef         Kind = "bad-input-ref"
	UTXOMissingOrSpent  Kind = "utxo-missing-or-spent"
	CoinbaseImmature    Kind = "coinbase-immature"
	BadOutput           Kind = "bad-output"
	BadOutputAmt        Kind = "bad-output-amt"
	MissingSig          Kind = "missing-sig"
	BadSignature        Kind = "bad-signature"
	InsufficientInput   Kind = "insufficient-input"
	IntraMempoolDoubleSp Kind = "intra-mempool-double-spend"
)

// Assembly / mining kinds.
const (
	NoSolution      Kind = "no-solution"
	CoinselectFailed Kind = "coinselect-failed"
	Insufficient    Kind = "insufficient"
	ParseFailed     Kind = "parse-failed"
)

// Header validation kinds.
const (
	InvalidVersion      Kind = "invalid-version"
	PrevLinkMismatch    Kind = "prev-link-mismatch"
	TimestampDecreased  Kind = "timestamp-decreased"
	PowTargetNotMet     Kind = "pow-target-not-met"
	MissingCoinbase     Kind = "missing-coinbase"
)

// Acceptance kinds.
const (
	StalePrev            Kind = "stale-prev"
	MerkleMismatch       Kind = "merkle-mismatch"
	HeaderInvalid        Kind = "header-invalid"
	UnknownOrExpiredJob  Kind = "unknown-or-expired-job"
	StaleJob             Kind = "stale-job"
	PrevMismatch         Kind = "prev-mismatch"
	AddrMismatch         Kind = "addr-mismatch"
	NonceOutOfWindow     Kind = "nonce-out-of-window"
	NotANearTarget       Kind = "not-a-near-target"
	TicketExpired        Kind = "ticket-expired"
	BadTicketSignature   Kind = "bad-ticket-signature"
	BadTicketPayload     Kind = "bad-ticket-payload"
)

// Error is the structured error value surfaced to callers. Context carries
// diagnostics such as height, prev, target, rebuilt vs submitted merkle, or
// txids length, so a miner/pool can recover without re-deriving state.
type Error struct {
	Kind    Kind
	Reason  string
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// New builds an *Error with no context.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf builds an *Error with a formatted reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WithContext returns a copy of e with ctx merged into Context.
func (e *Error) WithContext(ctx map[string]any) *Error {
	cp := &Error{Kind: e.Kind, Reason: e.Reason, Context: make(map[string]any, len(e.Context)+len(ctx))}
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	for k, v := range ctx {
		cp.Context[k] = v
	}
	return cp
}

// Is reports whether err is a *Error of the given kind, so callers can write
// coreerr.Is(err, coreerr.StaleJob) instead of type-asserting by hand.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
