// Package main: proof-of-reserves verifier service.
//
// Commands:
//
//	porserver serve -c conf.json [-m]    start the RESTful API and the scheduled verification
//	porserver check -c conf.json --account 0x... --claimed 1.5 --exchange 1 [--dry]
//	porserver watch -c conf.json [--net sepolia]    print the events published by the verifiers of a network
//
// The run history database and the message broker are optional: leave dbconn or mbconn empty to run without them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/tarancss/por/lib/block"
	"github.com/tarancss/por/lib/config"
	"github.com/tarancss/por/lib/logger"
	"github.com/tarancss/por/lib/metrics"
	"github.com/tarancss/por/lib/msg"
	"github.com/tarancss/por/lib/msg/amqp"
	"github.com/tarancss/por/lib/store"
	"github.com/tarancss/por/lib/store/db"
	"github.com/tarancss/por/verifier"
	"github.com/tarancss/por/verifier/sequencer"
)

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "get configuration from json `FILE`",
	}

	app := &cli.App{
		Name:  "porserver",
		Usage: "Proof-of-reserves verifier",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the RESTful API and run the scheduled verification",
				Action: serve,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:    "metrics",
						Aliases: []string{"m"},
						Usage:   "serve Prometheus metrics at http://localhost:9100/metrics",
					},
				},
			},
			{
				Name:   "check",
				Usage:  "Verify a claim once and print the result",
				Action: check,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "account", Usage: "account holding the reserves", Required: true},
					&cli.Float64Flag{Name: "claimed", Usage: "claimed reserves in ether", Required: true},
					&cli.Uint64Flag{Name: "exchange", Usage: "exchange identifier"},
					&cli.BoolFlag{Name: "dry", Usage: "evaluate only, do not write to the ledger"},
				},
			},
			{
				Name:   "watch",
				Usage:  "Print the run and alert events published to the message broker",
				Action: watch,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "net", Usage: "network of the events, defaults to the configured one"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup reads the configuration and returns it with the service logger.
func setup(c *cli.Context) (config.ServiceConfig, zerolog.Logger, error) {
	conf, err := config.ExtractConfiguration(c.String("config"))
	if err != nil {
		return conf, zerolog.Nop(), err
	}

	return conf, logger.New("porserver", conf.LogLevel, conf.PrettyLogs), nil
}

// newPipeline connects to the ledger and assembles the verification pipeline. The caller must end the chain.
func newPipeline(ctx context.Context, conf config.ServiceConfig, readOnly bool, log zerolog.Logger,
	m *metrics.Metrics) (*verifier.Pipeline, block.Chain, error) {
	chain, err := block.Init(ctx, conf.Bc, conf.Signer, readOnly)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("net", conf.Bc.Name).Str("signer", chain.Signer()).Msg("Blockchain client loaded")

	seq := sequencer.New(chain, chain.Signer(), conf.LockWait(), log, m)
	sub := verifier.NewSubmitter(chain, seq, verifier.Fees(conf.Fees), conf.ConfirmWait(), log, m)

	retries := uint64(0)
	if conf.BalanceRetries > 0 {
		retries = uint64(conf.BalanceRetries)
	}

	p := verifier.NewPipeline(verifier.NewOracle(chain), sub, chain, verifier.Options{
		Threshold:   conf.Threshold,
		Retries:     retries,
		ReadTimeout: conf.ReadWait(),
	}, log, m)

	return p, chain, nil
}

// newBroker connects to the message broker, if any.
func newBroker(conf config.ServiceConfig, log zerolog.Logger) (msg.MsgBroker, error) {
	if conf.MbConn == "" {
		return nil, nil //nolint:nilnil // no broker configured
	}

	switch conf.MbType {
	case "amqp":
		mb, err := amqp.New(conf.MbConn, log)
		if err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn, log); err != nil {
				return nil, err
			}
		}

		if err = mb.Setup(); err != nil {
			mb.Close()

			return nil, err
		}

		return mb, nil
	default:
		log.Warn().Msgf("Unknown message broker type: %s", conf.MbType)

		return nil, nil //nolint:nilnil // unknown brokers are not used
	}
}

func serve(c *cli.Context) error {
	conf, log, err := setup(c)
	if err != nil {
		return err
	}

	if err = conf.Validate(); err != nil {
		return err
	}

	// load Prometheus monitor
	var m *metrics.Metrics
	if c.Bool("metrics") {
		if m, err = metrics.New(prometheus.DefaultRegisterer); err != nil {
			return err
		}

		go func() {
			log.Info().Msg("Serving metrics API")

			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())

			if err := http.ListenAndServe(":9100", h); err != nil { //nolint:gosec
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	// connect to database
	var dbConn store.DB
	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			return err
		}

		log.Info().Str("db", conf.DBType).Msg("Connected to database")
	}

	p, chain, err := newPipeline(c.Context, conf, false, log, m)
	if err != nil {
		return err
	}
	defer block.End(chain)

	mb, err := newBroker(conf, log)
	if err != nil {
		return err
	}

	v := verifier.New(conf.Bc.Name, p, conf.DBType, dbConn, mb, log)

	if conf.Schedule.Spec != "" {
		claim := verifier.Claim{
			Account:    conf.Schedule.Account,
			Claimed:    conf.Schedule.Claimed,
			ExchangeID: conf.Schedule.ExchangeID,
		}
		if err = v.Schedule(conf.Schedule.Spec, claim); err != nil {
			return err
		}
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan struct{})

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info().Msg("Program killed !")
		// do last actions and wait for running schedules to end
		v.Stop()
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Info().Msgf("Verifier: %s", v.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish

	return nil
}

func check(c *cli.Context) error {
	conf, log, err := setup(c)
	if err != nil {
		return err
	}

	dry := c.Bool("dry")
	if !dry {
		if err = conf.Validate(); err != nil {
			return err
		}
	}

	p, chain, err := newPipeline(c.Context, conf, dry, log, nil)
	if err != nil {
		return err
	}
	defer block.End(chain)

	var out interface{}

	if dry {
		o, cerr := p.Check(c.Context, c.String("account"), c.Float64("claimed"))
		if cerr != nil {
			return cerr
		}
		out = o
	} else {
		res, rerr := p.Run(c.Context, verifier.Claim{
			Account:    c.String("account"),
			Claimed:    c.Float64("claimed"),
			ExchangeID: c.Uint64("exchange"),
		})
		out, err = res, rerr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if eerr := enc.Encode(out); eerr != nil {
		return eerr
	}

	return err
}
