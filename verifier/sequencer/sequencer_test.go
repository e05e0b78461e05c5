package sequencer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/por/lib/block/types"
)

const signer = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"

// ledger keeps a nonce that only advances when a write consumes it.
type ledger struct {
	mu    sync.Mutex
	nonce uint64
	err   error
	calls int
}

func (l *ledger) Nonce(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.err != nil {
		return 0, l.err
	}

	return l.nonce, nil
}

func (l *ledger) consume() {
	l.mu.Lock()
	l.nonce++
	l.mu.Unlock()
}

func (l *ledger) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func TestAcquireRelease(t *testing.T) {
	l := &ledger{nonce: 7}
	s := New(l, signer, time.Second, zerolog.Nop(), nil)

	tok, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), tok.Nonce)
	assert.Equal(t, Stats{Acquired: 1, Released: 0, Held: true}, s.Stats())

	require.NoError(t, s.Release(tok))
	assert.ErrorIs(t, s.Release(tok), ErrTokenNotHeld)
	assert.Equal(t, Stats{Acquired: 1, Released: 1}, s.Stats())
}

func TestReleaseForeignToken(t *testing.T) {
	s := New(&ledger{}, signer, time.Second, zerolog.Nop(), nil)

	assert.ErrorIs(t, s.Release(Token{}), ErrTokenNotHeld)

	old, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Release(old))

	cur, err := s.Acquire(context.Background())
	require.NoError(t, err)

	// a stale token with the same nonce does not free the current holder
	assert.ErrorIs(t, s.Release(old), ErrTokenNotHeld)
	assert.True(t, s.Stats().Held)
	assert.ErrorIs(t, s.Release(Token{Nonce: cur.Nonce}), ErrTokenNotHeld)

	require.NoError(t, s.Release(cur))
}

func TestConcurrentTokensAreDistinct(t *testing.T) {
	const n = 25

	l := &ledger{}
	s := New(l, signer, 10*time.Second, zerolog.Nop(), nil)

	var inflight, maxInflight int32
	nonces := make([]uint64, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := s.Do(context.Background(), func(tok Token) error {
				cur := atomic.AddInt32(&inflight, 1)
				defer atomic.AddInt32(&inflight, -1)
				if cur > atomic.LoadInt32(&maxInflight) {
					atomic.StoreInt32(&maxInflight, cur)
				}

				mu.Lock()
				nonces = append(nonces, tok.Nonce)
				mu.Unlock()

				time.Sleep(time.Millisecond)
				l.consume()

				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInflight)
	require.Len(t, nonces, n)

	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		assert.Equal(t, uint64(i), nonce)
	}

	assert.Equal(t, Stats{Acquired: n, Released: n}, s.Stats())
}

func TestFIFO(t *testing.T) {
	s := New(&ledger{}, signer, 5*time.Second, zerolog.Nop(), nil)

	first, err := s.Acquire(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 1; i <= 3; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			assert.NoError(t, s.Do(context.Background(), func(Token) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()

				return nil
			}))
		}(i)
		time.Sleep(30 * time.Millisecond) // let waiter i queue up
	}

	require.NoError(t, s.Release(first))
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestContention(t *testing.T) {
	s := New(&ledger{}, signer, 50*time.Millisecond, zerolog.Nop(), nil)

	tok, err := s.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrContention)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, s.Release(tok))

	tok, err = s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Release(tok))
}

func TestCallerCancelWhileWaiting(t *testing.T) {
	s := New(&ledger{}, signer, 0, zerolog.Nop(), nil)

	tok, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrContention)

	require.NoError(t, s.Release(tok))
	assert.Equal(t, Stats{Acquired: 1, Released: 1}, s.Stats())
}

func TestNonceFailureReleasesLock(t *testing.T) {
	l := &ledger{}
	l.fail(errors.New("connection refused"))
	s := New(l, signer, 50*time.Millisecond, zerolog.Nop(), nil)

	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, types.ErrUnreachable)
	assert.Equal(t, Stats{}, s.Stats())

	// the lock is free again, a failure to get it now would be contention
	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, types.ErrUnreachable)
	assert.Equal(t, 2, l.calls)

	l.fail(nil)
	tok, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Release(tok))
}

func TestDo(t *testing.T) {
	s := New(&ledger{nonce: 3}, signer, time.Second, zerolog.Nop(), nil)
	errFn := errors.New("send failed")

	var got uint64
	err := s.Do(context.Background(), func(tok Token) error {
		got = tok.Nonce

		return errFn
	})
	assert.ErrorIs(t, err, errFn)
	assert.Equal(t, uint64(3), got)
	assert.Equal(t, Stats{Acquired: 1, Released: 1}, s.Stats())

	assert.Panics(t, func() {
		_ = s.Do(context.Background(), func(Token) error { panic("boom") })
	})
	assert.Equal(t, Stats{Acquired: 2, Released: 2}, s.Stats())

	// acquisition failures never call fn
	s = New(&ledger{err: errors.New("down")}, signer, time.Second, zerolog.Nop(), nil)
	called := false
	err = s.Do(context.Background(), func(Token) error {
		called = true

		return nil
	})
	assert.ErrorIs(t, err, types.ErrUnreachable)
	assert.False(t, called)
}
