// internal/transaction/errors.go
package transaction

import (
	"fmt"
)

// Kind classifies why a transaction failed.
type Kind uint8

const (
	KindRevertedExecution Kind = iota + 1
	KindExhaustedGas
	KindFeePolicyRejection
	KindProviderError
	KindNotFound
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRevertedExecution:
		return "RevertedExecution"
	case KindExhaustedGas:
		return "ExhaustedGas"
	case KindFeePolicyRejection:
		return "FeePolicyRejection"
	case KindProviderError:
		return "ProviderError"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Fee policies reported in FeePolicyRejection errors.
const (
	PolicyMinFee      = "min-fee"
	PolicyMaxGasLimit = "max-gas-limit"
)

// Sentinels for errors.Is matching. ErrRevertedExecution also matches exhausted gas.
var (
	ErrRevertedExecution  = &Error{Kind: KindRevertedExecution, Message: "reverted execution"}
	ErrExhaustedGas       = &Error{Kind: KindExhaustedGas, Message: "exhausted gas"}
	ErrFeePolicyRejection = &Error{Kind: KindFeePolicyRejection, Message: "fee policy rejection"}
	ErrProviderError      = &Error{Kind: KindProviderError, Message: "provider error"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
)

// Error is a classified transaction failure.
type Error struct {
	Kind    Kind
	Message string
	// Policy names the violated fee policy for KindFeePolicyRejection.
	Policy string
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Kind == KindProviderError {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind. Exhausted gas is a reverted execution.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindRevertedExecution && e.Kind == KindExhaustedGas
}

// IsReverted reports whether the failure came from execution, including exhausted gas.
func (e *Error) IsReverted() bool {
	return e.Kind == KindRevertedExecution || e.Kind == KindExhaustedGas
}
