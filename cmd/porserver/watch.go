package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/tarancss/por/lib/msg"
)

var errNoBroker = errors.New("no message broker configured")

func watch(c *cli.Context) error {
	conf, log, err := setup(c)
	if err != nil {
		return err
	}

	net := c.String("net")
	if net == "" {
		net = conf.Bc.Name
	}

	mb, err := newBroker(conf, log)
	if err != nil {
		return err
	}
	if mb == nil {
		return errNoBroker
	}

	mut := new(sync.Mutex)
	mut.Lock()

	eves, errs, err := mb.GetEvents(net, mut)
	if err != nil {
		mb.Close()

		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// closing the broker ends the delivery of events
	closed := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := mb.Close(); err != nil {
			log.Error().Err(err).Msg("closing message broker")
		}
		close(closed)
	}()

	log.Info().Str("net", net).Msg("Watching events")
	n := printEvents(os.Stdout, eves, errs, mut, log)

	stop()
	<-closed
	log.Info().Int("events", n).Msg("Stopped watching events")

	return nil
}

// printEvents writes every event received as a JSON line to w, unlocking mut once written so the event is
// acknowledged. It returns the number of events written when both channels are closed.
func printEvents(w io.Writer, eves <-chan msg.Event, errs <-chan error, mut *sync.Mutex, log zerolog.Logger) int {
	enc := json.NewEncoder(w)
	n := 0

	for eves != nil || errs != nil {
		select {
		case e, ok := <-eves:
			if !ok {
				eves = nil

				continue
			}

			if err := enc.Encode(e); err != nil {
				log.Error().Err(err).Str("kind", e.Kind).Uint64("exchange", e.ExchangeID).Msg("writing event")
			} else {
				n++
			}
			mut.Unlock()
		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			log.Warn().Err(err).Msg("discarded event")
		}
	}

	return n
}
