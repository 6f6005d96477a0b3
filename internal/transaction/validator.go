// internal/transaction/validator.go
package transaction

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

// Validator checks payloads against the network fee policy before submission.
type Validator struct {
	logger *zap.Logger
}

func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{
		logger: nopIfNil(logger).Named("tx-validator"),
	}
}

// ValidatePayload returns a FeePolicyRejection naming the first violated policy, or nil.
func (v *Validator) ValidatePayload(payload blockchain.Payload, policy blockchain.FeePolicy) *Error {
	if err := v.ValidateGasLimit(payload, policy); err != nil {
		return err
	}
	return v.ValidateFee(payload, policy)
}

func (v *Validator) ValidateGasLimit(payload blockchain.Payload, policy blockchain.FeePolicy) *Error {
	if policy.MaxGasLimit == 0 || payload.GasLimit <= policy.MaxGasLimit {
		return nil
	}
	v.logger.Debug("Gas limit above network maximum",
		zap.String("method", payload.Method),
		zap.Uint64("gas_limit", payload.GasLimit),
		zap.Uint64("max_gas_limit", policy.MaxGasLimit))
	return &Error{
		Kind:    KindFeePolicyRejection,
		Policy:  PolicyMaxGasLimit,
		Message: fmt.Sprintf("fee policy rejection (%s): gas limit %d exceeds network maximum %d", PolicyMaxGasLimit, payload.GasLimit, policy.MaxGasLimit),
	}
}

// ValidateFee compares the payload fee ceiling with the lowest ceiling the network accepts
// for the same gas limit.
func (v *Validator) ValidateFee(payload blockchain.Payload, policy blockchain.FeePolicy) *Error {
	if payload.FeeCap >= policy.MinFeePerGas {
		return nil
	}
	minimum := blockchain.TotalFee(payload.GasLimit, policy.MinFeePerGas)
	v.logger.Debug("Fee cap below network minimum",
		zap.String("method", payload.Method),
		zap.Uint64("fee_cap", payload.FeeCap),
		zap.Uint64("min_fee_per_gas", policy.MinFeePerGas))
	return &Error{
		Kind:   KindFeePolicyRejection,
		Policy: PolicyMinFee,
		Message: fmt.Sprintf("fee policy rejection (%s): fee cap %d per gas is below network minimum %d (ceiling %d < %d)",
			PolicyMinFee, payload.FeeCap, policy.MinFeePerGas, payload.FeeCeiling(), minimum),
	}
}
