// Package verifier implements the proof-of-reserves verifier.
//
// A verification run reads the balance of the account an exchange claims to hold its reserves in, compares it with
// the claimed amount, commits the outcome to the ReserveOracle contract and, when the reserves are not verified,
// raises an alert in the AlertContract. All ledger writes of the service are made by a single signer and are
// serialized by a sequencer so every write gets its own nonce.
//
// The service exposes runs through a RESTful API and can run a fixed claim on a cron schedule.
package verifier

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tarancss/por/lib/msg"
	"github.com/tarancss/por/lib/store"
	"github.com/tarancss/por/lib/store/db"
)

// Verifier contains the data necessary to deliver the service.
type Verifier struct {
	net    string
	p      *Pipeline
	dbtype string
	db     store.DB      // run history, optional
	mb     msg.MsgBroker // event publishing, optional
	log    zerolog.Logger
	mu     sync.Mutex    // guards the servers
	s      *http.Server  // http server
	ss     *http.Server  // https server
	sc     chan struct{} // http server channel used for graceful shutdowns
	cron   *cron.Cron
	rec    sync.WaitGroup // runs being recorded
}

// New returns a verifier service running p on network net. dbConn and mb may be nil.
func New(net string, p *Pipeline, dbtype string, dbConn store.DB, mb msg.MsgBroker, log zerolog.Logger) *Verifier {
	v := &Verifier{
		net:    net,
		p:      p,
		dbtype: dbtype,
		db:     dbConn,
		mb:     mb,
		log:    log.With().Str("net", net).Logger(),
		sc:     make(chan struct{}),
	}

	p.OnFinish(v.recordAsync)

	return v
}

// recordAsync records res off the run's return path. Stop waits for pending records.
func (v *Verifier) recordAsync(res Result) {
	if v.db == nil && v.mb == nil {
		return
	}

	v.rec.Add(1)

	go func() {
		defer v.rec.Done()

		v.record(res)
	}()
}

// Stop shuts down the http servers and the scheduler and closes gracefully the connections to message broker and
// database.
func (v *Verifier) Stop() {
	if v.cron != nil {
		<-v.cron.Stop().Done()
	}

	v.mu.Lock()
	if v.s != nil {
		if err := v.s.Shutdown(context.Background()); err != nil {
			v.log.Error().Err(err).Msg("http server shutdown")
		}
	}
	if v.ss != nil {
		if err := v.ss.Shutdown(context.Background()); err != nil {
			v.log.Error().Err(err).Msg("https server shutdown")
		}
	}
	v.mu.Unlock()
	close(v.sc) // indicate shutdowns have finished

	v.rec.Wait()

	if v.mb != nil {
		if err := v.mb.Close(); err != nil {
			v.log.Error().Err(err).Msg("closing message broker")
		}
	}

	if v.db != nil {
		err := db.Close(v.dbtype, v.db)
		v.log.Info().Err(err).Str("db", v.dbtype).Msg("database disconnected")
	}
}

// record saves a finished run to the history and publishes its events. Failures are logged only, the ledger keeps
// the verification.
func (v *Verifier) record(res Result) {
	if v.db != nil {
		if _, err := v.db.SaveRun(toRun(res)); err != nil {
			v.log.Error().Err(err).Uint64("exchange", res.ExchangeID).Msg("saving run")
		}
	}

	if v.mb == nil {
		return
	}

	e := msg.Event{
		Kind:           msg.KindRun,
		Net:            v.net,
		ExchangeID:     res.ExchangeID,
		Account:        res.Account,
		Claimed:        res.Claimed,
		Actual:         res.Actual,
		Verified:       res.Verified,
		DiscrepancyPct: res.DiscrepancyPct,
		State:          res.State,
		Tx:             res.CommitTx,
		Error:          res.Error,
		Time:           res.Finished,
	}
	if err := v.mb.SendEvent(v.net, e); err != nil {
		v.log.Error().Err(err).Uint64("exchange", res.ExchangeID).Msg("publishing run")
	}

	if res.AlertTx != "" && res.AlertError == "" {
		e.Kind = msg.KindAlert
		e.Tx = res.AlertTx
		e.Issue = AlertIssue(res.DiscrepancyPct)
		e.Error = ""

		if err := v.mb.SendEvent(v.net, e); err != nil {
			v.log.Error().Err(err).Uint64("exchange", res.ExchangeID).Msg("publishing alert")
		}
	}
}

func toRun(res Result) store.Run {
	return store.Run{
		ExchangeID:     res.ExchangeID,
		Account:        res.Account,
		Claimed:        res.Claimed,
		Actual:         res.Actual,
		Verified:       res.Verified,
		DiscrepancyPct: res.DiscrepancyPct,
		State:          res.State,
		CommitTx:       res.CommitTx,
		AlertTx:        res.AlertTx,
		Error:          res.Error,
		Started:        res.Started.UTC().Truncate(time.Millisecond),
		Finished:       res.Finished.UTC().Truncate(time.Millisecond),
	}
}
