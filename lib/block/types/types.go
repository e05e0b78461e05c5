// Package types common ledger types.
package types

import (
	"errors"
	"math/big"
)

// Transaction status constants.
const (
	TrxPending uint8 = 0
	TrxFailed  uint8 = 1
	TrxSuccess uint8 = 2
)

// Op identifies the state changing operations the verifier submits to the ledger.
type Op uint8

// Write operations.
const (
	OpCommit Op = iota // ReserveOracle.updateReserveStatus
	OpAlert            // AlertContract.triggerAlert
)

func (o Op) String() string {
	switch o {
	case OpCommit:
		return "commit"
	case OpAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// Write contains the arguments of a write operation. Only the fields of the given Op are used: ExchangeID, Verified,
// DiscrepancyPct and Timestamp for OpCommit; ExchangeID and Issue for OpAlert.
type Write struct {
	Op             Op     `json:"op"`
	ExchangeID     uint64 `json:"exchangeId"`
	Verified       bool   `json:"verified,omitempty"`
	DiscrepancyPct uint64 `json:"discrepancyPct,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	Issue          string `json:"issue,omitempty"`
}

// Fees are the fee ceilings of a write, in wei.
type Fees struct {
	GasLimit       uint64
	MaxFee         *big.Int
	MaxPriorityFee *big.Int
}

// Receipt is the result of a write once the ledger has mined it.
type Receipt struct {
	Hash      string `json:"hash"`
	Block     uint64 `json:"block"`
	GasUsed   uint64 `json:"gasUsed"`
	Status    uint8  `json:"status"`
	Confirmed bool   `json:"confirmed"`
}

// ReserveStatus is the verification record stored on the ledger for an exchange.
type ReserveStatus struct {
	Verified       bool   `json:"verified"`
	DiscrepancyPct uint64 `json:"discrepancyPct"`
	Timestamp      int64  `json:"timestamp"`
}

// Error codes.
var (
	ErrBadAddress  = errors.New("malformed account address")
	ErrNoSigner    = errors.New("signer key is not available")
	ErrUnknownOp   = errors.New("unknown write operation")
	ErrRejected    = errors.New("transaction rejected by node")
	ErrSendUnknown = errors.New("transaction submission outcome unknown")
	ErrTrxFailed   = errors.New("transaction mined with failed status")
	ErrUnreachable = errors.New("ledger unreachable")
	ErrNoStatus    = errors.New("reserve status not available")
	ErrNoNet       = errors.New("ledger interface not defined for network")
)
