// Package errs provides structured error types and helpers for Omnivault services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies the coarse error taxonomy an error belongs to.
type Code string

const (
	// CodeValidation indicates malformed caller input.
	CodeValidation Code = "validation"
	// CodeAuthorization indicates a caller lacking the required identity.
	CodeAuthorization Code = "authorization"
	// CodeState indicates an operation incompatible with current registry or ledger state.
	CodeState Code = "state"
	// CodeResourceLimit indicates a capacity, balance, or withdrawal ceiling violation.
	CodeResourceLimit Code = "resource_limit"
	// CodeExternal indicates a failure originating in an external collaborator.
	CodeExternal Code = "external"
)

// Reason pins down the exact failure within a taxonomy code.
type Reason string

const (
	// ReasonUnknown captures uncategorized failures.
	ReasonUnknown Reason = "unknown"
	// ReasonZeroAmount indicates a zero or negative amount.
	ReasonZeroAmount Reason = "zero_amount"
	// ReasonZeroIdentity indicates an empty asset or account identity.
	ReasonZeroIdentity Reason = "zero_identity"
	// ReasonNotAuthorized indicates the caller is not the administrative identity.
	ReasonNotAuthorized Reason = "not_authorized"
	// ReasonAssetNotSupported indicates a deposit in an unregistered or tombstoned asset.
	ReasonAssetNotSupported Reason = "asset_not_supported"
	// ReasonAlreadySupported indicates a duplicate asset registration.
	ReasonAlreadySupported Reason = "already_supported"
	// ReasonCannotRemoveSettlementAsset indicates an attempt to deregister the settlement asset.
	ReasonCannotRemoveSettlementAsset Reason = "cannot_remove_settlement_asset"
	// ReasonExceedsCapacity indicates the aggregate capacity cap would be breached.
	ReasonExceedsCapacity Reason = "exceeds_capacity"
	// ReasonExceedsWithdrawalLimit indicates the per-withdrawal ceiling would be breached.
	ReasonExceedsWithdrawalLimit Reason = "exceeds_withdrawal_limit"
	// ReasonInsufficientBalance indicates the account balance cannot cover the debit.
	ReasonInsufficientBalance Reason = "insufficient_balance"
	// ReasonNoLiquidityPath indicates no direct or bridged route to the settlement asset.
	ReasonNoLiquidityPath Reason = "no_liquidity_path"
	// ReasonSlippageBoundViolated indicates a swap outcome below the minimum acceptable output.
	ReasonSlippageBoundViolated Reason = "slippage_bound_violated"
	// ReasonDeadlineExpired indicates the swap deadline elapsed before execution.
	ReasonDeadlineExpired Reason = "deadline_expired"
	// ReasonCustodyTransferFailed indicates the external asset transfer did not complete.
	ReasonCustodyTransferFailed Reason = "custody_transfer_failed"
	// ReasonReentrantCall indicates entry into a guarded operation while one is in progress.
	ReasonReentrantCall Reason = "reentrant_call"
)

// E captures structured error information produced across the Omnivault stack.
type E struct {
	Op      string
	Code    Code
	Reason  Reason
	Message string
	Fields  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the named operation and taxonomy code.
func New(op string, code Code, reason Reason, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		Reason:  reason,
		Message: "",
		Fields:  nil,
		cause:   nil,
	}
	if e.Reason == "" {
		e.Reason = ReasonUnknown
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single diagnostic key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

// WithFields merges the provided diagnostic fields into the error envelope.
func WithFields(fields map[string]string) Option {
	return func(e *E) {
		if len(fields) == 0 {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, len(fields))
		}
		for k, v := range fields {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Fields[key] = strings.TrimSpace(v)
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if r := strings.TrimSpace(string(e.Reason)); r != "" && r != string(ReasonUnknown) {
		parts = append(parts, "reason="+r)
	}

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// ReasonOf extracts the Reason from err, unwrapping as needed.
// Errors outside the envelope report ReasonUnknown.
func ReasonOf(err error) Reason {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given reason anywhere in its chain.
func HasReason(err error, reason Reason) bool {
	var e *E
	if errors.As(err, &e) && e != nil && e.Reason == reason {
		return true
	}
	if e != nil {
		return HasReason(e.Unwrap(), reason)
	}
	return false
}

// CodeOf extracts the taxonomy Code from err, unwrapping as needed.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}
