// Package sequencer serializes the ledger writes of a signing identity. Only one token can be held at a time and each
// token carries the nonce the ledger reported for the signer once the lock was obtained.
//
// A single Sequencer must exist per signer identity per process. Several processes sharing one signer are not
// coordinated.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/tarancss/por/lib/block/types"
	"github.com/tarancss/por/lib/metrics"
)

// Error codes.
var (
	ErrContention   = errors.New("sequencer lock wait timed out")
	ErrTokenNotHeld = errors.New("sequence token is not held")
)

// Ledger returns the outstanding transaction count of an account.
type Ledger interface {
	Nonce(ctx context.Context, account string) (uint64, error)
}

// Token is the right to submit one write with Nonce.
type Token struct {
	Nonce  uint64
	serial uint64
}

// Stats are the sequencer counters. Acquired equals Released when no token is held.
type Stats struct {
	Acquired uint64
	Released uint64
	Held     bool
}

// Sequencer hands out tokens in FIFO order to its callers.
type Sequencer struct {
	ledger      Ledger
	account     string
	lockTimeout time.Duration
	sem         *semaphore.Weighted
	log         zerolog.Logger
	m           *metrics.Metrics

	mu       sync.Mutex
	serial   uint64 // serial of the current or last token
	held     bool
	acquired uint64
	released uint64
}

// New returns a sequencer for the signer account. A non positive lockTimeout waits until ctx ends.
func New(ledger Ledger, account string, lockTimeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *Sequencer {
	return &Sequencer{
		ledger:      ledger,
		account:     account,
		lockTimeout: lockTimeout,
		sem:         semaphore.NewWeighted(1),
		log:         log.With().Str("component", "sequencer").Logger(),
		m:           m,
	}
}

// Acquire blocks until no other token is outstanding and returns a token with the signer's current nonce. It returns
// ErrContention if the lock is not obtained within the lock timeout. If the nonce cannot be read the lock is released
// and an error wrapping types.ErrUnreachable is returned.
func (s *Sequencer) Acquire(ctx context.Context) (Token, error) {
	start := time.Now()

	wctx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}

	if err := s.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return Token{}, fmt.Errorf("waiting for sequencer: %w", ctx.Err())
		}

		s.log.Warn().Dur("waited", time.Since(start)).Msg("sequencer contention")

		return Token{}, fmt.Errorf("%w after %s", ErrContention, s.lockTimeout)
	}
	s.m.Wait(time.Since(start))

	nonce, err := s.ledger.Nonce(ctx, s.account)
	if err != nil {
		s.sem.Release(1)

		return Token{}, fmt.Errorf("%w: reading nonce of %s: %v", types.ErrUnreachable, s.account, err)
	}

	s.mu.Lock()
	s.serial++
	s.held = true
	s.acquired++
	t := Token{Nonce: nonce, serial: s.serial}
	s.mu.Unlock()

	s.log.Debug().Uint64("nonce", nonce).Msg("token acquired")

	return t, nil
}

// Release gives back t. Releasing a token that is not the one currently held returns ErrTokenNotHeld and does nothing.
func (s *Sequencer) Release(t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held || t.serial == 0 || t.serial != s.serial {
		return ErrTokenNotHeld
	}

	s.held = false
	s.released++
	s.sem.Release(1)

	return nil
}

// Do acquires a token, calls fn with it and releases it whatever fn does, panics included.
func (s *Sequencer) Do(ctx context.Context, fn func(Token) error) error {
	t, err := s.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err := s.Release(t); err != nil {
			s.log.Error().Err(err).Uint64("nonce", t.Nonce).Msg("releasing token")
		}
	}()

	return fn(t)
}

// Stats returns the sequencer counters.
func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{Acquired: s.acquired, Released: s.released, Held: s.held}
}
