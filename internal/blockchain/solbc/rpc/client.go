// internal/blockchain/solbc/rpc/client.go
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 10 * time.Second
	MaxRetries     = 3
	RetryDelay     = 500 * time.Millisecond
)

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	// RequestsPerSecond caps the request rate over all nodes. Zero disables the limit.
	RequestsPerSecond float64
	// Retries is the number of additional attempts after a retryable failure.
	Retries uint
	// Timeout bounds a single request.
	Timeout time.Duration
}

type node struct {
	client *solanarpc.Client
	url    string
}

// Client is a rate limited Solana JSON-RPC client that retries transient failures and moves
// to the next node after each failed attempt.
type Client struct {
	nodes   []node
	limiter *rate.Limiter
	retries uint
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	current int
}

// NewClient creates a client over the given endpoints.
func NewClient(urls []string, opts Options, logger *zap.Logger) (*Client, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nodes := make([]node, len(urls))
	for i, url := range urls {
		nodes[i] = node{client: solanarpc.New(url), url: url}
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		nodes:   nodes,
		limiter: rate.NewLimiter(limit, burst),
		retries: opts.Retries,
		timeout: timeout,
		logger:  logger.Named("rpc-client"),
	}, nil
}

// URLs returns the configured endpoints.
func (c *Client) URLs() []string {
	urls := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		urls[i] = n.url
	}
	return urls
}

func (c *Client) next() node {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nodes[c.current]
	c.current = (c.current + 1) % len(c.nodes)
	return n
}

// execute runs op against the nodes in turn until it succeeds, fails permanently or the
// retries are used up.
func execute[T any](ctx context.Context, c *Client, method string, op func(context.Context, *solanarpc.Client) (T, error)) (T, error) {
	var lastURL string

	attempt := func() (T, error) {
		var zero T
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}

		n := c.next()
		lastURL = n.url

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		result, err := op(reqCtx, n.client)
		if err == nil {
			return result, nil
		}
		if !IsRetryableError(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = RetryDelay

	result, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("RPC request failed, trying next node",
				zap.String("method", method),
				zap.String("url", lastURL),
				zap.Duration("backoff", next),
				zap.Error(err))
		}))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		var zero T
		return zero, NewError(err, lastURL, method)
	}
	return result, nil
}

func (c *Client) GetSlot(ctx context.Context, commitment solanarpc.CommitmentType) (uint64, error) {
	return execute(ctx, c, "getSlot", func(ctx context.Context, cl *solanarpc.Client) (uint64, error) {
		return cl.GetSlot(ctx, commitment)
	})
}

func (c *Client) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	signatures ...solana.Signature,
) (*solanarpc.GetSignatureStatusesResult, error) {
	return execute(ctx, c, "getSignatureStatuses", func(ctx context.Context, cl *solanarpc.Client) (*solanarpc.GetSignatureStatusesResult, error) {
		return cl.GetSignatureStatuses(ctx, searchTransactionHistory, signatures...)
	})
}

func (c *Client) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *solanarpc.GetTransactionOpts,
) (*solanarpc.GetTransactionResult, error) {
	return execute(ctx, c, "getTransaction", func(ctx context.Context, cl *solanarpc.Client) (*solanarpc.GetTransactionResult, error) {
		return cl.GetTransaction(ctx, signature, opts)
	})
}

func (c *Client) GetBlockWithOpts(
	ctx context.Context,
	slot uint64,
	opts *solanarpc.GetBlockOpts,
) (*solanarpc.GetBlockResult, error) {
	return execute(ctx, c, "getBlock", func(ctx context.Context, cl *solanarpc.Client) (*solanarpc.GetBlockResult, error) {
		return cl.GetBlockWithOpts(ctx, slot, opts)
	})
}

// SendTransactionWithOpts is attempted once: resending a signed transaction to another node
// is left to the caller.
func (c *Client) SendTransactionWithOpts(
	ctx context.Context,
	tx *solana.Transaction,
	opts solanarpc.TransactionOpts,
) (solana.Signature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	n := c.next()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sig, err := n.client.SendTransactionWithOpts(reqCtx, tx, opts)
	if err != nil {
		c.logger.Error("SendTransactionWithOpts error", zap.String("url", n.url), zap.Error(err))
		return solana.Signature{}, NewError(err, n.url, "sendTransaction")
	}
	return sig, nil
}
