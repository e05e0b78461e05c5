// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/tarancss/por/lib/msg"
)

// Exchange is the topic exchange verifier events are published to.
const Exchange = "por"

// errBuffer is the number of consume errors kept for a slow receiver, later ones are only logged.
const errBuffer = 16

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex // guards ch, runs may publish concurrently
	log  zerolog.Logger
}

// New instantiates a new amqp broker.
func New(uri string, log zerolog.Logger) (*Amqp, error) {
	r := &Amqp{log: log.With().Str("mb", "amqp").Logger()}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return nil, err
	}
	r.log.Info().Msg("Connected to message broker")

	return r, nil
}

// Setup declares the "por" topic exchange. Events are routed with key <net>.<kind>.<exchangeId>.
func (r *Amqp) Setup() error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Error().Err(err).Msg("closing amqp.Channel")
		}
		r.ch = nil
	}
	r.mu.Unlock()

	return r.conn.Close()
}

// SendEvent publishes e to the "por" exchange.
func (r *Amqp) SendEvent(net string, e msg.Event) error {
	jsonDoc, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := net + "." + e.Kind + "." + strconv.FormatUint(e.ExchangeID, 10)

	r.mu.Lock()
	defer r.mu.Unlock()

	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return err
		}
	}

	m := amqp.Publishing{
		Headers:     amqp.Table{"x-event-name": key},
		Body:        jsonDoc,
		ContentType: "application/json",
		Timestamp:   e.Time,
	}
	if err = r.ch.Publish(Exchange, key, false, false, m); err != nil {
		r.log.Error().Err(err).Str("net", net).Str("kind", e.Kind).Msg("sending event to message broker")
		// the channel is closed by the server on errors, get a new one next time
		r.ch = nil
	}

	return err
}

// GetEvents consumes events for net from the "por" exchange pushing them to the returned channel. The Mutex pointer is
// provided to ensure the consumed message has been fully dealt with by the receiver, so the message consumed is only
// acknowledged when the mutex is unlocked. Both channels are closed when the broker stops delivering, ie on Close.
func (r *Amqp) GetEvents(net string, mut *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	channel, err := r.conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	queue := Exchange + "." + net
	if _, err = channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		channel.Close()

		return nil, nil, err
	}

	if err = channel.QueueBind(queue, net+".*.*", Exchange, false, nil); err != nil {
		channel.Close()

		return nil, nil, err
	}

	msgs, err := channel.Consume(queue, "por-"+net, false, false, false, false, nil)
	if err != nil {
		channel.Close()

		return nil, nil, err
	}

	eves := make(chan msg.Event)
	errs := make(chan error, errBuffer)

	go func() {
		defer channel.Close()

		r.consume(msgs, mut, eves, errs)
	}()

	return eves, errs, nil
}

// consume decodes the deliveries of msgs until it is closed and then closes eves and errs. Undecodable deliveries are
// rejected without requeue.
func (r *Amqp) consume(msgs <-chan amqp.Delivery, mut *sync.Mutex, eves chan<- msg.Event, errs chan<- error) {
	defer close(errs)
	defer close(eves)

	for m := range msgs {
		var e msg.Event
		if err := json.Unmarshal(m.Body, &e); err != nil {
			select {
			case errs <- err:
			default:
				r.log.Warn().Err(err).Uint64("tag", m.DeliveryTag).Msg("discarding undecodable event")
			}
			_ = m.Nack(false, false)

			continue
		}

		eves <- e
		mut.Lock() // wait for the receiver to finish processing the event
		if err := m.Ack(false); err != nil {
			r.log.Error().Err(err).Uint64("tag", m.DeliveryTag).Msg("acknowledging event")
		}
	}
}
