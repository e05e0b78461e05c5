package ethereum

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tarancss/hd"

	"github.com/tarancss/por/lib/block/types"
	"github.com/tarancss/por/lib/config"
)

// SignerKey returns the private key of the signer identity: the raw hex key if informed, otherwise the key derived
// from the HD wallet seed at the configured wallet/change/id path.
func SignerKey(sc config.SignerConfig) (*ecdsa.PrivateKey, error) {
	if sc.Key != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(sc.Key, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid signer key: %w", err)
		}

		return key, nil
	}

	if sc.Seed == "" {
		return nil, types.ErrNoSigner
	}

	seed, err := hex.DecodeString(sc.Seed)
	if err != nil {
		return nil, fmt.Errorf("invalid HD wallet seed: %w", err)
	}

	hdw, err := hd.Init(seed)
	if err != nil {
		return nil, fmt.Errorf("cannot init HD wallet: %w", err)
	}

	_, raw, _, err := hdw.Address(sc.Wallet, sc.Change, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("cannot derive HD wallet key %d/%d/%d: %w", sc.Wallet, sc.Change, sc.ID, err)
	}

	return crypto.ToECDSA(raw)
}
