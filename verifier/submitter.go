package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/tarancss/por/lib/block/types"
	"github.com/tarancss/por/lib/config"
	"github.com/tarancss/por/lib/metrics"
	"github.com/tarancss/por/verifier/sequencer"
)

// Writer is the part of block.Chain the submitter needs.
type Writer interface {
	Send(ctx context.Context, w types.Write, nonce uint64, fees types.Fees) (string, error)
	Wait(ctx context.Context, hash string) (types.Receipt, error)
}

// Operation is a state changing call on the verifier contracts.
type Operation interface {
	write() types.Write
}

// CommitVerification records a verification outcome in the ReserveOracle contract.
type CommitVerification struct {
	ExchangeID     uint64
	Verified       bool
	DiscrepancyPct uint64
	Timestamp      int64 // unix seconds
}

func (c CommitVerification) write() types.Write {
	return types.Write{Op: types.OpCommit, ExchangeID: c.ExchangeID, Verified: c.Verified,
		DiscrepancyPct: c.DiscrepancyPct, Timestamp: c.Timestamp}
}

// RaiseAlert calls the AlertContract for an exchange.
type RaiseAlert struct {
	ExchangeID uint64
	Issue      string
}

func (a RaiseAlert) write() types.Write {
	return types.Write{Op: types.OpAlert, ExchangeID: a.ExchangeID, Issue: a.Issue}
}

// Submitter submits operations to the ledger with sequencer tokens.
type Submitter struct {
	chain   Writer
	seq     *sequencer.Sequencer
	fees    types.Fees
	confirm time.Duration
	log     zerolog.Logger
	m       *metrics.Metrics
}

// Fees converts the configured fee caps to wei.
func Fees(fc config.FeeConfig) types.Fees {
	gwei := big.NewInt(1_000_000_000)

	return types.Fees{
		GasLimit:       fc.GasLimit,
		MaxFee:         new(big.Int).Mul(new(big.Int).SetUint64(fc.MaxFeeGwei), gwei),
		MaxPriorityFee: new(big.Int).Mul(new(big.Int).SetUint64(fc.MaxPriorityFeeGwei), gwei),
	}
}

// NewSubmitter returns a submitter writing to chain. Each submission waits at most confirm for its receipt.
func NewSubmitter(chain Writer, seq *sequencer.Sequencer, fees types.Fees, confirm time.Duration,
	log zerolog.Logger, m *metrics.Metrics) *Submitter {
	return &Submitter{
		chain:   chain,
		seq:     seq,
		fees:    fees,
		confirm: confirm,
		log:     log.With().Str("component", "submitter").Logger(),
		m:       m,
	}
}

// Submit sends op using the nonce of token and waits for one confirmation. The caller owns token and must release it.
//
// Cancelling ctx does not stop the submission, only the confirmation timeout does, so a held token is always given
// back after a definite submit or fail. A refused or reverted write gives ErrWriteRejected; a write whose outcome
// could not be established gives ErrConfirmationTimeout and must not be resubmitted with the same token.
func (s *Submitter) Submit(ctx context.Context, op Operation, token sequencer.Token) (types.Receipt, error) {
	w := op.write()
	log := s.log.With().Str("op", w.Op.String()).Uint64("exchange", w.ExchangeID).Uint64("nonce", token.Nonce).Logger()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirm)
	defer cancel()

	hash, err := s.chain.Send(ctx, w, token.Nonce, s.fees)
	if err != nil {
		if errors.Is(err, types.ErrSendUnknown) {
			log.Error().Err(err).Str("tx", hash).Msg("submission outcome unknown")
			s.m.Write(w.Op.String(), "timeout")

			return types.Receipt{Hash: hash, Status: types.TrxPending}, fmt.Errorf("%w: %v", ErrConfirmationTimeout, err)
		}

		log.Error().Err(err).Msg("write rejected")
		s.m.Write(w.Op.String(), "rejected")

		return types.Receipt{}, fmt.Errorf("%w: %v", ErrWriteRejected, err)
	}

	log.Info().Str("tx", hash).Msg("write submitted")

	rec, err := s.chain.Wait(ctx, hash)
	switch {
	case errors.Is(err, types.ErrTrxFailed):
		log.Error().Str("tx", hash).Msg("write reverted")
		s.m.Write(w.Op.String(), "rejected")

		return rec, fmt.Errorf("%w: %v", ErrWriteRejected, err)
	case err != nil:
		log.Error().Err(err).Str("tx", hash).Msg("write not confirmed")
		s.m.Write(w.Op.String(), "timeout")

		return rec, fmt.Errorf("%w: %v", ErrConfirmationTimeout, err)
	}

	log.Info().Str("tx", hash).Uint64("block", rec.Block).Msg("write confirmed")
	s.m.Write(w.Op.String(), "ok")

	return rec, nil
}

// Apply acquires a token, submits op with it and releases the token.
func (s *Submitter) Apply(ctx context.Context, op Operation) (types.Receipt, error) {
	var rec types.Receipt

	err := s.seq.Do(ctx, func(t sequencer.Token) error {
		var err error
		rec, err = s.Submit(ctx, op, t)

		return err
	})

	return rec, err
}
