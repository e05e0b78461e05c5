package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/tarancss/por/lib/block/types"
)

// ReserveOracleABI is the subset of the ReserveOracle contract interface used by the verifier.
const ReserveOracleABI = `[
{"type":"function","name":"updateReserveStatus","stateMutability":"nonpayable","outputs":[],
 "inputs":[{"name":"exchangeId","type":"uint256"},{"name":"verified","type":"bool"},
           {"name":"discrepancyPct","type":"uint256"},{"name":"timestamp","type":"uint256"}]},
{"type":"function","name":"getReserveStatus","stateMutability":"view",
 "inputs":[{"name":"exchangeId","type":"uint256"}],
 "outputs":[{"name":"verified","type":"bool"},{"name":"discrepancyPct","type":"uint256"},
            {"name":"timestamp","type":"uint256"}]}
]`

// AlertContractABI is the subset of the AlertContract interface used by the verifier.
const AlertContractABI = `[
{"type":"function","name":"triggerAlert","stateMutability":"nonpayable","outputs":[],
 "inputs":[{"name":"exchangeId","type":"uint256"},{"name":"issue","type":"string"}]}
]`

//nolint:gochecknoglobals // parsed once, read-only
var (
	reserveOracleABI = mustParse(ReserveOracleABI)
	alertABI         = mustParse(AlertContractABI)
)

func mustParse(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}

	return a
}

// decodeReserveStatus unpacks the output of getReserveStatus.
func decodeReserveStatus(out []byte) (rs types.ReserveStatus, err error) {
	vals, err := reserveOracleABI.Unpack("getReserveStatus", out)
	if err != nil {
		return rs, fmt.Errorf("cannot decode reserve status: %w", err)
	}
	if len(vals) != 3 {
		return rs, types.ErrNoStatus
	}

	var ok bool
	if rs.Verified, ok = vals[0].(bool); !ok {
		return rs, types.ErrNoStatus
	}
	pct, ok := vals[1].(*big.Int)
	if !ok {
		return rs, types.ErrNoStatus
	}
	ts, ok := vals[2].(*big.Int)
	if !ok {
		return rs, types.ErrNoStatus
	}
	rs.DiscrepancyPct = pct.Uint64()
	rs.Timestamp = ts.Int64()

	return rs, nil
}
