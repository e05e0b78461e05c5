package verifier

import (
	"errors"

	"github.com/tarancss/por/lib/block/types"
	"github.com/tarancss/por/verifier/sequencer"
)

// Error codes returned by the verifier components. Ledger and sequencer errors are the same values as in their
// packages so errors.Is works across layers.
var (
	ErrUnreachableLedger   = types.ErrUnreachable
	ErrSequencerContention = sequencer.ErrContention
	ErrInvalidInput        = errors.New("invalid input")
	ErrWriteRejected       = errors.New("write rejected")
	ErrConfirmationTimeout = errors.New("write confirmation timed out, outcome unknown")
	ErrReadbackUnavailable = errors.New("stored reserve status unavailable")
)

// Retryable reports whether the operation that returned err can be safely retried by the caller. Writes whose outcome
// is unknown are never retryable.
func Retryable(err error) bool {
	if errors.Is(err, ErrConfirmationTimeout) || errors.Is(err, ErrWriteRejected) {
		return false
	}

	return errors.Is(err, ErrUnreachableLedger) || errors.Is(err, ErrSequencerContention)
}
