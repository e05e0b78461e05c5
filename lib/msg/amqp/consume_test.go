package amqp

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"

	"github.com/tarancss/por/lib/msg"
)

// acks records the acknowledgements of deliveries.
type acks struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *acks) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.acked = append(a.acked, tag)

	return nil
}

func (a *acks) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nacked = append(a.nacked, tag)

	return nil
}

func (a *acks) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func (a *acks) get() (acked, nacked []uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]uint64(nil), a.acked...), append([]uint64(nil), a.nacked...)
}

func TestConsume(t *testing.T) {
	r := &Amqp{log: zerolog.Nop()}
	a := &acks{}

	msgs := make(chan amqp.Delivery, errBuffer+3)
	msgs <- amqp.Delivery{Acknowledger: a, DeliveryTag: 1, Body: []byte(`{"kind":"run","exchangeId":3}`)}
	msgs <- amqp.Delivery{Acknowledger: a, DeliveryTag: 2, Body: []byte(`not json`)}
	// nobody reads errors: the consumer must not block on them
	for i := 0; i < errBuffer; i++ {
		msgs <- amqp.Delivery{Acknowledger: a, DeliveryTag: uint64(3 + i), Body: []byte(`{`)}
	}
	msgs <- amqp.Delivery{Acknowledger: a, DeliveryTag: 99, Body: []byte(`{"kind":"alert","exchangeId":4}`)}
	close(msgs)

	mut := new(sync.Mutex)
	mut.Lock()

	eves := make(chan msg.Event)
	errs := make(chan error, errBuffer)
	done := make(chan struct{})

	go func() {
		r.consume(msgs, mut, eves, errs)
		close(done)
	}()

	e := <-eves
	assert.Equal(t, msg.KindRun, e.Kind)
	assert.Equal(t, uint64(3), e.ExchangeID)

	// not acknowledged until the receiver is done
	time.Sleep(20 * time.Millisecond)
	acked, _ := a.get()
	assert.Empty(t, acked)
	mut.Unlock()

	e = <-eves
	assert.Equal(t, msg.KindAlert, e.Kind)
	mut.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not end")
	}

	_, ok := <-eves
	assert.False(t, ok)

	n := 0
	for range errs {
		n++
	}
	assert.Equal(t, errBuffer, n)

	acked, nacked := a.get()
	assert.Equal(t, []uint64{1, 99}, acked)
	assert.Len(t, nacked, errBuffer+1)
}
