package verifier

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/tarancss/por/lib/block/types"
)

const (
	signer  = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	account = "0xcba75F167B03e34B8a572c50273C082401b073Ed"
)

// sent is a write the fake chain received.
type sent struct {
	w     types.Write
	nonce uint64
	hash  string
}

// fakeChain is an in-memory ledger. Writes are mined instantly unless configured otherwise.
type fakeChain struct {
	mu sync.Mutex

	balance      *big.Int
	balanceErr   error
	balanceFails int           // number of balance reads failing with balanceErr, -1 for all of them
	balanceDelay time.Duration // reads block this long unless their ctx ends first
	balanceCalls int

	nonce      uint64
	nonceErr   error
	nonceCalls int

	sendErr   map[types.Op]error
	sendHook  func(types.Write)
	waitErr   map[types.Op]error
	waitDelay time.Duration // confirmation delay, ctx bounded
	sent      []sent
	pending   map[string]types.Write

	inflight    int
	maxInflight int

	stored    map[uint64]types.ReserveStatus
	statusErr error
}

func newFakeChain(balanceEther float64) *fakeChain {
	return &fakeChain{
		balance: ether(balanceEther),
		sendErr: map[types.Op]error{},
		waitErr: map[types.Op]error{},
		pending: map[string]types.Write{},
		stored:  map[uint64]types.ReserveStatus{},
	}
}

func ether(v float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(1e18)).Int(nil)

	return wei
}

func (c *fakeChain) Balance(ctx context.Context, _ string) (*big.Int, error) {
	c.mu.Lock()
	c.balanceCalls++
	failing := c.balanceFails < 0 || c.balanceCalls <= c.balanceFails
	err, delay, bal := c.balanceErr, c.balanceDelay, c.balance
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if failing && err != nil {
		return nil, err
	}

	return new(big.Int).Set(bal), nil
}

func (c *fakeChain) Nonce(_ context.Context, _ string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nonceCalls++
	if c.nonceErr != nil {
		return 0, c.nonceErr
	}

	return c.nonce, nil
}

func (c *fakeChain) Send(_ context.Context, w types.Write, nonce uint64, fees types.Fees) (string, error) {
	if c.sendHook != nil {
		c.sendHook(w)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if fees.MaxFee == nil || fees.GasLimit == 0 {
		return "", fmt.Errorf("%w: missing fees", types.ErrRejected)
	}

	if nonce != c.nonce {
		return "", fmt.Errorf("%w: nonce %d, expected %d", types.ErrRejected, nonce, c.nonce)
	}

	hash := fmt.Sprintf("0x%064x", len(c.sent)+1)

	err := c.sendErr[w.Op]
	if err != nil && err != types.ErrSendUnknown { //nolint:errorlint
		return "", err
	}

	c.inflight++
	if c.inflight > c.maxInflight {
		c.maxInflight = c.inflight
	}

	c.sent = append(c.sent, sent{w: w, nonce: nonce, hash: hash})
	c.pending[hash] = w
	c.nonce++

	if err != nil {
		c.inflight--

		return hash, err
	}

	return hash, nil
}

func (c *fakeChain) Wait(ctx context.Context, hash string) (types.Receipt, error) {
	defer func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}()

	c.mu.Lock()
	delay := c.waitDelay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return types.Receipt{Hash: hash}, fmt.Errorf("waiting for %s: %w", hash, ctx.Err())
		case <-time.After(delay):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.pending[hash]
	rec := types.Receipt{Hash: hash, Block: uint64(len(c.sent)), Confirmed: true, Status: types.TrxSuccess}

	if err := c.waitErr[w.Op]; err != nil {
		rec.Status = types.TrxFailed

		return rec, err
	}

	if w.Op == types.OpCommit {
		c.stored[w.ExchangeID] = types.ReserveStatus{Verified: w.Verified, DiscrepancyPct: w.DiscrepancyPct,
			Timestamp: w.Timestamp}
	}

	return rec, nil
}

func (c *fakeChain) ReserveStatus(ctx context.Context, exchangeID uint64) (types.ReserveStatus, error) {
	if err := ctx.Err(); err != nil {
		return types.ReserveStatus{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.statusErr != nil {
		return types.ReserveStatus{}, c.statusErr
	}

	rs, ok := c.stored[exchangeID]
	if !ok {
		return rs, types.ErrNoStatus
	}

	return rs, nil
}

func (c *fakeChain) writes() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]sent(nil), c.sent...)
}

func (c *fakeChain) counts() (balance, nonce int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.balanceCalls, c.nonceCalls
}
