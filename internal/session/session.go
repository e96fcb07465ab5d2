// Package session carries the signing capability of one connected account.
// It is passed explicitly to every state-changing operation instead of being
// consulted as an ambient global.
package session

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Session identifies a connected account able to sign transactions.
type Session struct {
	address common.Address
	opts    *bind.TransactOpts
}

// NewFromKey builds a session from a hex-encoded private key.
func NewFromKey(hexKey string, chainID *big.Int) (*Session, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	return &Session{
		address: crypto.PubkeyToAddress(key.PublicKey),
		opts:    opts,
	}, nil
}

// Address returns the account address of the session.
func (s *Session) Address() common.Address {
	return s.address
}

// TransactOpts returns signing options carrying the given value, in wei.
// The returned struct is a shallow copy; mutating it does not affect the
// session.
func (s *Session) TransactOpts(value *big.Int) *bind.TransactOpts {
	opts := *s.opts
	if value != nil {
		opts.Value = new(big.Int).Set(value)
	}
	return &opts
}
