package keys

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrEmptyIdentity = errors.New("empty identity")
	ErrEmptyPepper   = errors.New("empty pepper")
)

const (
	signerNamespace = "-signer-"
	saltNamespace   = "-salt-"
)

// Derived is the key material computed for one identity
type Derived struct {
	Identity string
	Key      *ecdsa.PrivateKey
	Address  common.Address
	Salt     *big.Int
}

// Deriver maps identities to keypairs. The pepper is the only secret; rotating
// it changes every derived address
type Deriver struct {
	pepper string
}

// NewDeriver creates a new deriver, the pepper must not be empty
func NewDeriver(pepper string) (*Deriver, error) {
	if pepper == "" {
		return nil, ErrEmptyPepper
	}
	return &Deriver{pepper: pepper}, nil
}

// Derive returns the signing key, address and CREATE2 salt for identity
func (d *Deriver) Derive(identity string) (*Derived, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}

	seed := sha256.Sum256([]byte(d.pepper + signerNamespace + identity))
	key, err := toKey(seed)
	if err != nil {
		return nil, err
	}

	salt := sha256.Sum256([]byte(d.pepper + saltNamespace + identity))

	return &Derived{
		Identity: identity,
		Key:      key,
		Address:  crypto.PubkeyToAddress(key.PublicKey),
		Salt:     new(big.Int).SetBytes(salt[:]),
	}, nil
}

// Address is a shortcut for Derive(identity).Address
func (d *Deriver) Address(identity string) (common.Address, error) {
	derived, err := d.Derive(identity)
	if err != nil {
		return common.Address{}, err
	}
	return derived.Address, nil
}

// toKey rehashes the seed until it is a valid secp256k1 scalar
func toKey(seed [32]byte) (*ecdsa.PrivateKey, error) {
	for i := 0; i < 16; i++ {
		key, err := crypto.ToECDSA(seed[:])
		if err == nil {
			return key, nil
		}
		seed = sha256.Sum256(seed[:])
	}
	return nil, errors.New("derive key: no valid scalar")
}
