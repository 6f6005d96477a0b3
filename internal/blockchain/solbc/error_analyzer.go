// internal/blockchain/solbc/error_analyzer.go
package solbc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

// AnchorError is an error reported by an Anchor program through its logs.
type AnchorError struct {
	Code int
	Name string
	Msg  string
}

// ErrorAnalyzer turns Solana execution results and RPC failures into adapter signals.
type ErrorAnalyzer struct {
	logger *zap.Logger
}

func NewErrorAnalyzer(logger *zap.Logger) *ErrorAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorAnalyzer{
		logger: logger.Named("error-analyzer"),
	}
}

// RevertReason describes why a transaction failed, preferring program logs over the raw
// instruction error.
func (ea *ErrorAnalyzer) RevertReason(txErr interface{}, logs []string) string {
	for _, line := range logs {
		if strings.Contains(line, "AnchorError") {
			anchorErr := ea.parseAnchorErrorLog(line)
			if anchorErr.Name != "" {
				ea.logger.Debug("Anchor error detected",
					zap.Int("code", anchorErr.Code),
					zap.String("name", anchorErr.Name),
					zap.String("message", anchorErr.Msg))
				return fmt.Sprintf("%s (%d): %s", anchorErr.Name, anchorErr.Code, anchorErr.Msg)
			}
		}
	}
	for _, line := range logs {
		if msg, ok := strings.CutPrefix(line, "Program log: Error: "); ok {
			return msg
		}
	}
	if txErr == nil {
		return ""
	}
	if raw, err := json.Marshal(txErr); err == nil {
		return string(raw)
	}
	return fmt.Sprint(txErr)
}

// ExhaustedCompute reports whether the transaction ran out of compute units.
func (ea *ErrorAnalyzer) ExhaustedCompute(txErr interface{}, logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, "exceeded CUs meter") || strings.Contains(line, "Computational budget exceeded") {
			return true
		}
	}
	if txErr == nil {
		return false
	}
	raw, err := json.Marshal(txErr)
	return err == nil && strings.Contains(string(raw), "ComputationalBudgetExceeded")
}

// ClassifySendError maps a submission failure to the adapter sentinels where one applies.
func (ea *ErrorAnalyzer) ClassifySendError(err error) error {
	if err == nil {
		return nil
	}

	text := err.Error()
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		text = rpcErr.Message
		if rpcErr.Data != nil {
			if raw, mErr := json.Marshal(rpcErr.Data); mErr == nil {
				text += " " + string(raw)
			}
		}
	}

	switch {
	case strings.Contains(text, "InsufficientFundsForFee"),
		strings.Contains(text, "insufficient funds for fee"),
		strings.Contains(text, "InsufficientFundsForRent"):
		// the fee payer balance is short, not the fee itself
		return fmt.Errorf("fee payer cannot cover fees: %w", err)
	case strings.Contains(text, "BlockhashNotFound"),
		strings.Contains(text, "Blockhash not found"):
		ea.logger.Debug("Submission used an expired blockhash", zap.Error(err))
	}
	return err
}

// parseAnchorErrorLog parses a log line such as
// "Program log: AnchorError occurred. Error Code: InstructionFallbackNotFound. Error Number: 101. Error Message: Fallback functions are not supported."
func (ea *ErrorAnalyzer) parseAnchorErrorLog(logStr string) AnchorError {
	result := AnchorError{}

	if _, rest, ok := strings.Cut(logStr, "Error Number:"); ok {
		numPart, _, _ := strings.Cut(rest, ".")
		fmt.Sscanf(strings.TrimSpace(numPart), "%d", &result.Code)
	}
	if _, rest, ok := strings.Cut(logStr, "Error Code:"); ok {
		name, _, _ := strings.Cut(rest, ".")
		result.Name = strings.TrimSpace(name)
	}
	if _, rest, ok := strings.Cut(logStr, "Error Message:"); ok {
		result.Msg = strings.TrimSuffix(strings.TrimSpace(rest), ".")
	}

	return result
}
