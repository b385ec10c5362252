package vrf

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_service/pkg/logger"
	"github.com/google/uuid"
)

// FulfillFunc receives a fulfilled request. It mirrors the callback the real
// provider invokes on the service.
type FulfillFunc func(requestID string, word uint64)

// LocalProvider generates randomness in-process and pushes the fulfillment
// back through a callback after a configurable delay. It stands in for the
// external provider in development and tests; its words are secure random
// but carry no verifiability proof.
type LocalProvider struct {
	log      *logger.Logger
	delay    time.Duration
	wordFn   func() (uint64, error)
	mu       sync.Mutex
	callback FulfillFunc
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider constructs a local provider.
func NewLocalProvider(log *logger.Logger) *LocalProvider {
	if log == nil {
		log = logger.NewDefault("vrf-local-provider")
	}
	return &LocalProvider{
		log:    log,
		delay:  250 * time.Millisecond,
		wordFn: randomWord,
	}
}

// WithCallback sets the fulfillment callback. Requests made before a
// callback is configured are rejected.
func (p *LocalProvider) WithCallback(fn FulfillFunc) {
	p.mu.Lock()
	p.callback = fn
	p.mu.Unlock()
}

// WithDelay overrides the artificial fulfillment latency.
func (p *LocalProvider) WithDelay(d time.Duration) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

// WithWordSource overrides the word generator, for deterministic tests.
func (p *LocalProvider) WithWordSource(fn func() (uint64, error)) {
	p.mu.Lock()
	p.wordFn = fn
	p.mu.Unlock()
}

// RequestRandomWords accepts the request and schedules an asynchronous
// fulfillment.
func (p *LocalProvider) RequestRandomWords(_ context.Context, params RequestParams) (string, error) {
	p.mu.Lock()
	callback := p.callback
	delay := p.delay
	wordFn := p.wordFn
	p.mu.Unlock()

	if callback == nil {
		return "", fmt.Errorf("local provider has no fulfillment callback")
	}
	if params.NumWords != 1 {
		return "", fmt.Errorf("local provider supports exactly one word, got %d", params.NumWords)
	}

	word, err := wordFn()
	if err != nil {
		return "", fmt.Errorf("generate random word: %w", err)
	}

	requestID := uuid.NewString()
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		p.log.WithField("request_id", requestID).Debug("delivering local fulfillment")
		callback(requestID, word)
	}()

	return requestID, nil
}

func randomWord() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
