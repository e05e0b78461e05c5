package verifier

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tarancss/por/lib/util"
)

// BalanceReader is the part of block.Chain the oracle needs.
type BalanceReader interface {
	Balance(ctx context.Context, account string) (*big.Int, error)
}

// Oracle reads account balances from the ledger. It is safe for concurrent use.
type Oracle struct {
	chain BalanceReader
}

// NewOracle returns an oracle reading from chain.
func NewOracle(chain BalanceReader) *Oracle {
	return &Oracle{chain: chain}
}

// Balance returns the balance of account in ether at the latest ledger state. It makes a single attempt: a malformed
// account gives ErrInvalidInput, any ledger failure ErrUnreachableLedger.
func (o *Oracle) Balance(ctx context.Context, account string) (float64, error) {
	if !common.IsHexAddress(account) {
		return 0, fmt.Errorf("%w: account %q", ErrInvalidInput, account)
	}

	wei, err := o.chain.Balance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("%w: balance of %s: %w", ErrUnreachableLedger, account, err)
	}

	return util.ToEther(wei), nil
}
