package verifier

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Schedule runs claim on the standard cron spec (ie. "*/10 * * * *"). A tick is skipped while the previous run of the
// schedule is still going on. Results are logged, and recorded like every other run.
func (v *Verifier) Schedule(spec string, claim Claim) error {
	if err := claim.Validate(); err != nil {
		return err
	}

	log := v.log.With().Str("component", "schedule").Str("spec", spec).Logger()
	cl := cronLogger{log: log}

	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := c.AddFunc(spec, func() {
		res, err := v.p.Run(context.Background(), claim)
		if err != nil {
			log.Error().Err(err).Str("state", res.State).Uint64("exchange", claim.ExchangeID).Msg("scheduled run")

			return
		}
		log.Info().Uint64("exchange", claim.ExchangeID).Bool("verified", res.Verified).
			Float64("discrepancy", res.DiscrepancyPct).Str("tx", res.CommitTx).Msg("scheduled run")
	}); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", ErrInvalidInput, spec, err)
	}

	if v.cron != nil {
		<-v.cron.Stop().Done()
	}
	v.cron = c
	c.Start()

	log.Info().Msg("verification scheduled")

	return nil
}
