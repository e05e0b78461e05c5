package verifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/tarancss/por/lib/block/types"
	"github.com/tarancss/por/lib/metrics"
	"github.com/tarancss/por/lib/util"
)

// Pipeline states.
const (
	StateIdle        = "idle"
	StateFetching    = "fetching_balance"
	StateEvaluating  = "evaluating"
	StateCommitting  = "committing"
	StateAlerting    = "alerting"
	StateReadingBack = "reading_back"
	StateDone        = "done"
	StateErrored     = "errored"
)

// Pipeline events.
const (
	evFetch    = "fetch"
	evEvaluate = "evaluate"
	evCommit   = "commit"
	evAlert    = "alert"
	evReadBack = "read_back"
	evDone     = "finish"
	evFail     = "fail"
)

const defaultRetryInterval = 200 * time.Millisecond

// StatusReader is the part of block.Chain used to read back stored verifications.
type StatusReader interface {
	ReserveStatus(ctx context.Context, exchangeID uint64) (types.ReserveStatus, error)
}

// Claim is a reserve amount an exchange claims to hold in an account.
type Claim struct {
	Account    string  `json:"account"`
	Claimed    float64 `json:"claimedAmount"`
	ExchangeID uint64  `json:"exchangeIdentifier"`
}

// Validate checks the account is an address and the claim a non negative finite amount.
func (c Claim) Validate() error {
	if !common.IsHexAddress(c.Account) {
		return fmt.Errorf("%w: account %q", ErrInvalidInput, c.Account)
	}

	if math.IsNaN(c.Claimed) || math.IsInf(c.Claimed, 0) || c.Claimed < 0 {
		return fmt.Errorf("%w: claimed amount %v", ErrInvalidInput, c.Claimed)
	}

	return nil
}

// Result is what a run produced. Outcome is set once the balance has been evaluated, even if the commit then failed.
type Result struct {
	Outcome
	ExchangeID uint64               `json:"exchangeIdentifier"`
	CommitTx   string               `json:"commitTxId,omitempty"`
	AlertTx    string               `json:"alertTxId,omitempty"`
	Stored     *types.ReserveStatus `json:"storedReserve"`
	State      string               `json:"state"`
	Persisted  bool                 `json:"persisted"`
	Error      string               `json:"error,omitempty"`
	AlertError string               `json:"alertError,omitempty"`
	Started    time.Time            `json:"started"`
	Finished   time.Time            `json:"finished"`
}

// Options tune a pipeline.
type Options struct {
	Threshold     float64       // discrepancy percentage from which reserves are not verified
	Retries       uint64        // balance read retries after the first attempt
	RetryInterval time.Duration // initial backoff between balance reads
	ReadTimeout   time.Duration // bound of each ledger read
}

// Pipeline runs the verification of claims: read balance, evaluate, commit, alert when not verified and read back.
// Runs are independent and can execute concurrently; their writes are serialized by the submitter's sequencer.
type Pipeline struct {
	oracle   *Oracle
	sub      *Submitter
	status   StatusReader
	opts     Options
	log      zerolog.Logger
	m        *metrics.Metrics
	onFinish []func(Result)
	now      func() time.Time
}

// NewPipeline returns a pipeline.
func NewPipeline(oracle *Oracle, sub *Submitter, status StatusReader, opts Options, log zerolog.Logger,
	m *metrics.Metrics) *Pipeline {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}

	return &Pipeline{
		oracle: oracle,
		sub:    sub,
		status: status,
		opts:   opts,
		log:    log.With().Str("component", "pipeline").Logger(),
		m:      m,
		now:    time.Now,
	}
}

// OnFinish registers fn to be called with the result of every run that got past input validation.
func (p *Pipeline) OnFinish(fn func(Result)) {
	p.onFinish = append(p.onFinish, fn)
}

// AlertIssue is the alert text raised for a discrepancy.
func AlertIssue(pct float64) string {
	return fmt.Sprintf("Reserve mismatch: %.2f%% discrepancy detected", pct)
}

// Run verifies claim. An invalid claim returns ErrInvalidInput and nothing happens. A failure to read the balance or to
// commit the outcome ends the run in the errored state and is returned; alert and read back failures are reported in
// the result only.
func (p *Pipeline) Run(ctx context.Context, claim Claim) (Result, error) {
	if err := claim.Validate(); err != nil {
		return Result{Outcome: Outcome{Account: claim.Account, Claimed: claim.Claimed}, ExchangeID: claim.ExchangeID,
			State: StateIdle}, err
	}

	r := p.newRun(claim)

	return r.execute(ctx)
}

// Check reads the balance of account and evaluates claimed against it, without writing anything.
func (p *Pipeline) Check(ctx context.Context, account string, claimed float64) (Outcome, error) {
	if err := (Claim{Account: account, Claimed: claimed}).Validate(); err != nil {
		return Outcome{}, err
	}

	actual, err := p.balance(ctx, account, 0)
	if err != nil {
		return Outcome{}, err
	}

	o := Evaluate(claimed, actual, p.opts.Threshold)
	o.Account = account

	return o, nil
}

// ReadBack returns the verification stored on the ledger for exchangeID.
func (p *Pipeline) ReadBack(ctx context.Context, exchangeID uint64) (types.ReserveStatus, error) {
	if p.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ReadTimeout)
		defer cancel()
	}

	rs, err := p.status.ReserveStatus(ctx, exchangeID)
	if err != nil {
		return rs, fmt.Errorf("%w: exchange %d: %w", ErrReadbackUnavailable, exchangeID, err)
	}

	return rs, nil
}

// Submitter returns the submitter the pipeline writes with.
func (p *Pipeline) Submitter() *Submitter {
	return p.sub
}

// balance reads the balance of account with up to retries retries, each attempt bounded by the read timeout.
func (p *Pipeline) balance(ctx context.Context, account string, retries uint64) (float64, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.RetryInterval
	b.MaxElapsedTime = 0

	var actual float64
	attempt := 0

	err := backoff.Retry(func() error {
		attempt++

		actx := ctx
		if p.opts.ReadTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.opts.ReadTimeout)
			defer cancel()
		}

		v, err := p.oracle.Balance(actx, account)
		if errors.Is(err, ErrInvalidInput) {
			return backoff.Permanent(err)
		}
		if err != nil {
			p.log.Debug().Err(err).Int("attempt", attempt).Str("account", account).Msg("balance read failed")

			return err
		}

		actual = v

		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))

	return actual, err
}

// run is the state of a single verification.
type run struct {
	p     *Pipeline
	claim Claim
	fsm   *fsm.FSM
	res   Result
	log   zerolog.Logger
}

func (p *Pipeline) newRun(claim Claim) *run {
	r := &run{
		p:     p,
		claim: claim,
		res: Result{
			Outcome:    Outcome{Account: claim.Account, Claimed: claim.Claimed},
			ExchangeID: claim.ExchangeID,
			Started:    p.now(),
		},
		log: p.log.With().Uint64("exchange", claim.ExchangeID).Str("account", claim.Account).Logger(),
	}

	r.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evFetch, Src: []string{StateIdle}, Dst: StateFetching},
			{Name: evEvaluate, Src: []string{StateFetching}, Dst: StateEvaluating},
			{Name: evCommit, Src: []string{StateEvaluating}, Dst: StateCommitting},
			{Name: evAlert, Src: []string{StateCommitting}, Dst: StateAlerting},
			{Name: evReadBack, Src: []string{StateCommitting, StateAlerting}, Dst: StateReadingBack},
			{Name: evDone, Src: []string{StateReadingBack}, Dst: StateDone},
			{
				Name: evFail,
				Src: []string{
					StateIdle,
					StateFetching,
					StateEvaluating,
					StateCommitting,
					StateAlerting,
					StateReadingBack,
				},
				Dst: StateErrored,
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				r.log.Debug().Str("from", e.Src).Str("state", e.Dst).Msg("run state")
			},
		},
	)

	return r
}

// step fires event. The run drives its own transitions so an error here is a programming error.
func (r *run) step(event string) {
	if err := r.fsm.Event(context.Background(), event); err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("invalid run transition")
	}
}

func (r *run) execute(ctx context.Context) (Result, error) {
	p := r.p

	r.step(evFetch)

	actual, err := p.balance(ctx, r.claim.Account, p.opts.Retries)
	if err != nil {
		return r.fail(fmt.Errorf("fetching balance: %w", err))
	}

	r.step(evEvaluate)

	o := Evaluate(r.claim.Claimed, actual, p.opts.Threshold)
	o.Account = r.claim.Account
	r.res.Outcome = o
	p.m.Discrepancy(r.claim.ExchangeID, o.DiscrepancyPct)
	r.log.Info().Float64("claimed", o.Claimed).Float64("actual", o.Actual).Bool("verified", o.Verified).
		Float64("discrepancy", o.DiscrepancyPct).Msg("reserve evaluated")

	r.step(evCommit)

	rec, err := p.sub.Apply(ctx, CommitVerification{
		ExchangeID:     r.claim.ExchangeID,
		Verified:       o.Verified,
		DiscrepancyPct: util.RoundPct(o.DiscrepancyPct),
		Timestamp:      p.now().Unix(),
	})
	r.res.CommitTx = rec.Hash
	if err != nil {
		return r.fail(fmt.Errorf("committing verification: %w", err))
	}
	r.res.Persisted = true

	if !o.Verified {
		r.step(evAlert)

		rec, err = p.sub.Apply(ctx, RaiseAlert{ExchangeID: r.claim.ExchangeID, Issue: AlertIssue(o.DiscrepancyPct)})
		r.res.AlertTx = rec.Hash
		if err != nil {
			r.res.AlertError = err.Error()
			r.log.Warn().Err(err).Msg("alert not raised")
		}
	}

	r.step(evReadBack)

	rs, err := p.ReadBack(ctx, r.claim.ExchangeID)
	if err != nil {
		r.log.Warn().Err(err).Msg("read back failed")
	} else {
		r.res.Stored = &rs
	}

	r.step(evDone)

	return r.finish(), nil
}

func (r *run) fail(err error) (Result, error) {
	r.step(evFail)
	r.res.Error = err.Error()
	r.log.Error().Err(err).Msg("run failed")

	return r.finish(), err
}

func (r *run) finish() Result {
	r.res.State = r.fsm.Current()
	r.res.Finished = r.p.now()
	r.p.m.Run(r.res.State)

	for _, fn := range r.p.onFinish {
		fn(r.res)
	}

	return r.res
}
