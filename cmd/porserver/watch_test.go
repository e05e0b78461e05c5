package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/por/lib/msg"
)

func TestPrintEvents(t *testing.T) {
	eves := make(chan msg.Event)
	errs := make(chan error, 1)

	mut := new(sync.Mutex)
	mut.Lock()

	// a broker side consumer: the next event goes out once the previous one is done
	go func() {
		defer close(errs)
		defer close(eves)

		errs <- errors.New("invalid character")
		for i := uint64(1); i <= 3; i++ {
			eves <- msg.Event{Kind: msg.KindRun, Net: "sepolia", ExchangeID: i}
			mut.Lock()
		}
	}()

	var buf bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- printEvents(&buf, eves, errs, mut, zerolog.Nop())
	}()

	var n int
	select {
	case n = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("printEvents did not return after the channels were closed")
	}
	assert.Equal(t, 3, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	for i, l := range lines {
		var e msg.Event
		require.NoError(t, json.Unmarshal([]byte(l), &e))
		assert.Equal(t, uint64(i+1), e.ExchangeID)
		assert.Equal(t, "sepolia", e.Net)
	}
}
