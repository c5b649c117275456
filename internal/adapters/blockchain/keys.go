package blockchain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keyring holds the private keys available for signing
type Keyring struct {
	keys  map[common.Address]*ecdsa.PrivateKey
	order []common.Address
}

// NewKeyring parses hex private keys, with or without 0x prefix
func NewKeyring(privateKeys []string) (*Keyring, error) {
	k := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	for i, hexKey := range privateKeys {
		hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
		if hexKey == "" {
			continue
		}
		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key #%d: %w", i+1, err)
		}
		address := crypto.PubkeyToAddress(privateKey.PublicKey)
		if _, exists := k.keys[address]; !exists {
			k.order = append(k.order, address)
		}
		k.keys[address] = privateKey
	}
	return k, nil
}

// Accounts returns the loaded signer addresses in load order
func (k *Keyring) Accounts() []common.Address {
	return append([]common.Address(nil), k.order...)
}

// Key returns the private key of an account
func (k *Keyring) Key(account common.Address) (*ecdsa.PrivateKey, bool) {
	key, ok := k.keys[account]
	return key, ok
}

// Default returns the first loaded account
func (k *Keyring) Default() (common.Address, bool) {
	if len(k.order) == 0 {
		return common.Address{}, false
	}
	return k.order[0], true
}
