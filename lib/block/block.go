// Package block defines the interface required for the ledger the verifier reads balances from and writes
// verification records to.
package block

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/tarancss/por/lib/block/ethereum"
	"github.com/tarancss/por/lib/block/types"
	"github.com/tarancss/por/lib/config"
	"github.com/tarancss/por/lib/util"
)

// EthNets are the network names served by the ethereum interface.
var EthNets = []string{"mainnet", "sepolia", "holesky", "localhost", "hardhat"} //nolint:gochecknoglobals

// Chain is an interface that contains the required methods. It has been designed to be as much standard as possible,
// however, there may be ledgers that would require different types or more methods.
type Chain interface {
	Close()
	// Signer returns the address of the signing identity, empty if the connection is read-only.
	Signer() string
	// Balance returns the native currency balance of account in its smallest unit (wei).
	Balance(ctx context.Context, account string) (*big.Int, error)
	// Nonce returns the current outstanding transaction count of account.
	Nonce(ctx context.Context, account string) (uint64, error)
	// Send signs and submits w with the given sequence number and fees, returning the transaction hash.
	Send(ctx context.Context, w types.Write, nonce uint64, fees types.Fees) (string, error)
	// Wait blocks until the transaction is mined or ctx ends.
	Wait(ctx context.Context, hash string) (types.Receipt, error)
	// ReserveStatus reads the verification record stored for an exchange.
	ReserveStatus(ctx context.Context, exchangeID uint64) (types.ReserveStatus, error)
}

// Init connects to the ledger given in the config. If readOnly, no signer key is loaded.
func Init(ctx context.Context, bc config.BlockConfig, sc config.SignerConfig, readOnly bool) (Chain, error) {
	if !util.In(EthNets, bc.Name) {
		return nil, fmt.Errorf("%w: %s", types.ErrNoNet, bc.Name)
	}

	var key *ecdsa.PrivateKey
	if !readOnly {
		var err error
		if key, err = ethereum.SignerKey(sc); err != nil {
			return nil, err
		}
	}

	e, err := ethereum.Init(ctx, bc, key)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// End closes gracefully the ledger client.
func End(c Chain) {
	if c != nil {
		c.Close()
	}
}
