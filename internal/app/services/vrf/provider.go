// Package vrf provides clients for the external randomness provider. The
// provider accepts a request synchronously and delivers the random words
// later, either by calling the fulfillment endpoint or by answering status
// polls.
package vrf

import (
	"context"
	"time"
)

// RequestParams carries the provider-side parameters for a randomness
// request. Word count is fixed at one for raffle draws.
type RequestParams struct {
	KeyHash          string `json:"key_hash"`           // Provider key/lane identifier
	SubscriptionID   string `json:"subscription_id"`    // Billing subscription
	Confirmations    int    `json:"confirmations"`      // Confirmation depth before fulfillment
	CallbackGasLimit int64  `json:"callback_gas_limit"` // Resource budget for the callback
	NumWords         int    `json:"num_words"`
	NativePayment    bool   `json:"native_payment"`
}

// Provider accepts randomness requests. The returned request ID is an opaque
// correlation handle; the random word itself arrives asynchronously.
type Provider interface {
	RequestRandomWords(ctx context.Context, params RequestParams) (string, error)
}

// ProviderFunc allows a function to satisfy Provider.
type ProviderFunc func(ctx context.Context, params RequestParams) (string, error)

// RequestRandomWords calls the underlying function.
func (f ProviderFunc) RequestRandomWords(ctx context.Context, params RequestParams) (string, error) {
	return f(ctx, params)
}

// StatusChecker reports whether a previously accepted request has been
// fulfilled. Providers that push fulfillments do not need to implement it.
type StatusChecker interface {
	// CheckRequest returns done=false with a retry hint while the request is
	// pending, and the random word once the provider has produced it.
	CheckRequest(ctx context.Context, requestID string) (done bool, word uint64, retryAfter time.Duration, err error)
}
