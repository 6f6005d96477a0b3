// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrNoRPCNodes is returned when a client is created without endpoints.
	ErrNoRPCNodes = errors.New("no RPC nodes configured")

	// ErrRateLimit is returned by a node that throttles requests.
	ErrRateLimit = errors.New("rate limit exceeded")
)

// JSON-RPC codes the nodes use for conditions that go away on their own.
const (
	codeNodeUnhealthy     = -32005
	codeBlockNotAvailable = -32004
	codeTooManyRequests   = 429
)

// Error is an RPC failure with the node and method that produced it.
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the node and method context.
func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     err,
		NodeURL: nodeURL,
		Method:  method,
	}
}

// IsRetryableError reports whether err may succeed on another attempt or another node.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, solanarpc.ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == codeTooManyRequests || httpErr.Code >= 500
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeNodeUnhealthy, codeBlockNotAvailable, codeTooManyRequests:
			return true
		default:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof")
}
