// Implements interface for ethereum networks
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tarancss/por/lib/block/types"
	"github.com/tarancss/por/lib/config"
)

const defaultPoll = time.Second

// Ethereum implements a connection to an ethereum-type chain and the signer identity writing to the verifier
// contracts.
type Ethereum struct {
	c      *ethclient.Client
	key    *ecdsa.PrivateKey // nil on read-only connections
	from   common.Address
	chain  *big.Int
	oracle common.Address
	alert  common.Address
	poll   time.Duration
}

// Init returns a connection to an ethereum node, using bc.Secret ("user:password") if necessary for basic
// authentication. key is the signer's private key; a nil key gives a read-only connection that cannot Send.
func Init(ctx context.Context, bc config.BlockConfig, key *ecdsa.PrivateKey) (*Ethereum, error) {
	if !common.IsHexAddress(bc.ReserveOracle) || !common.IsHexAddress(bc.AlertContract) {
		return nil, fmt.Errorf("contract addresses %q %q: %w", bc.ReserveOracle, bc.AlertContract, types.ErrBadAddress)
	}

	var rc *rpc.Client
	var err error
	if bc.Secret != "" {
		rc, err = rpc.DialHTTPWithClient(bc.Node, &http.Client{Transport: basicAuth(bc.Secret)})
	} else {
		rc, err = rpc.DialContext(ctx, bc.Node)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot connect to ethereum blockchain in %s: %w", bc.Node, err)
	}

	e := &Ethereum{
		c:      ethclient.NewClient(rc),
		key:    key,
		oracle: common.HexToAddress(bc.ReserveOracle),
		alert:  common.HexToAddress(bc.AlertContract),
		poll:   time.Duration(bc.Poll) * time.Millisecond,
	}
	if e.poll <= 0 {
		e.poll = defaultPoll
	}
	if key != nil {
		e.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	if bc.ChainID != 0 {
		e.chain = big.NewInt(bc.ChainID)
	} else if e.chain, err = e.c.ChainID(ctx); err != nil {
		e.c.Close()

		return nil, fmt.Errorf("cannot get chain id from %s: %w", bc.Node, err)
	}

	return e, nil
}

// Close ends a connection
func (e *Ethereum) Close() {
	e.c.Close()
}

// Signer returns the checksummed address of the signer identity, or an empty string on read-only connections.
func (e *Ethereum) Signer() string {
	if e.key == nil {
		return ""
	}

	return e.from.Hex()
}

// Balance returns the ether balance of account in wei at the latest block.
func (e *Ethereum) Balance(ctx context.Context, account string) (*big.Int, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("%q: %w", account, types.ErrBadAddress)
	}

	return e.c.BalanceAt(ctx, common.HexToAddress(account), nil)
}

// Nonce returns the outstanding transaction count of account, pending transactions included, so a write whose
// confirmation is still unknown is never given the same nonce again.
func (e *Ethereum) Nonce(ctx context.Context, account string) (uint64, error) {
	if !common.IsHexAddress(account) {
		return 0, fmt.Errorf("%q: %w", account, types.ErrBadAddress)
	}

	return e.c.PendingNonceAt(ctx, common.HexToAddress(account))
}

// Send signs a dynamic fee transaction for w with the given nonce and fee ceilings and submits it to the node. It
// returns the transaction hash once the node has accepted it. A node refusal is reported as types.ErrRejected, a
// failure to get any answer from the node as types.ErrSendUnknown since the node may still have received it.
func (e *Ethereum) Send(ctx context.Context, w types.Write, nonce uint64, fees types.Fees) (string, error) {
	if e.key == nil {
		return "", types.ErrNoSigner
	}

	to, data, err := e.encode(w)
	if err != nil {
		return "", err
	}

	tx := gtypes.NewTx(&gtypes.DynamicFeeTx{
		ChainID:   e.chain,
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFee,
		GasFeeCap: fees.MaxFee,
		Gas:       fees.GasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signed, err := gtypes.SignTx(tx, gtypes.LatestSignerForChainID(e.chain), e.key)
	if err != nil {
		return "", fmt.Errorf("cannot sign %s transaction: %w", w.Op, err)
	}

	if err = e.c.SendTransaction(ctx, signed); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %s", types.ErrRejected, rpcErr.Error())
		}

		return signed.Hash().Hex(), fmt.Errorf("%w: %v", types.ErrSendUnknown, err)
	}

	return signed.Hash().Hex(), nil
}

// Wait blocks until the transaction hash is mined and returns its receipt. A mined transaction with failed status
// returns the receipt and types.ErrTrxFailed. Node errors while waiting are not fatal, only ctx ends the wait.
func (e *Ethereum) Wait(ctx context.Context, hash string) (types.Receipt, error) {
	h := common.HexToHash(hash)

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		r, err := e.c.TransactionReceipt(ctx, h)
		if err == nil {
			rec := types.Receipt{
				Hash:      hash,
				GasUsed:   r.GasUsed,
				Confirmed: true,
				Status:    types.TrxSuccess,
			}
			if r.BlockNumber != nil {
				rec.Block = r.BlockNumber.Uint64()
			}
			if r.Status != gtypes.ReceiptStatusSuccessful {
				rec.Status = types.TrxFailed

				return rec, fmt.Errorf("%s: %w", hash, types.ErrTrxFailed)
			}

			return rec, nil
		}

		select {
		case <-ctx.Done():
			return types.Receipt{Hash: hash, Status: types.TrxPending}, fmt.Errorf("waiting for %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ReserveStatus reads the verification record stored in the ReserveOracle contract for exchangeID.
func (e *Ethereum) ReserveStatus(ctx context.Context, exchangeID uint64) (types.ReserveStatus, error) {
	var rs types.ReserveStatus

	data, err := reserveOracleABI.Pack("getReserveStatus", new(big.Int).SetUint64(exchangeID))
	if err != nil {
		return rs, err
	}

	out, err := e.c.CallContract(ctx, geth.CallMsg{To: &e.oracle, Data: data}, nil)
	if err != nil {
		return rs, err
	}
	if len(out) == 0 {
		return rs, types.ErrNoStatus
	}

	return decodeReserveStatus(out)
}

// encode returns the destination contract and the call data for w.
func (e *Ethereum) encode(w types.Write) (common.Address, []byte, error) {
	id := new(big.Int).SetUint64(w.ExchangeID)

	switch w.Op {
	case types.OpCommit:
		data, err := reserveOracleABI.Pack("updateReserveStatus", id, w.Verified,
			new(big.Int).SetUint64(w.DiscrepancyPct), big.NewInt(w.Timestamp))

		return e.oracle, data, err
	case types.OpAlert:
		data, err := alertABI.Pack("triggerAlert", id, w.Issue)

		return e.alert, data, err
	default:
		return common.Address{}, nil, types.ErrUnknownOp
	}
}

// basicAuth is a http.RoundTripper adding basic authentication to every request sent to the node.
type basicAuth string

func (b basicAuth) RoundTrip(r *http.Request) (*http.Response, error) {
	user, pass, _ := strings.Cut(string(b), ":")

	r = r.Clone(r.Context())
	r.SetBasicAuth(user, pass)

	return http.DefaultTransport.RoundTrip(r)
}
