package paychan

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	ErrMissingNetwork = errors.New("network params are required")
	ErrNoPrivateKey   = errors.New("key material holds no private key")
)

// KeyMaterial wraps a secp256k1 keypair bound to a network. It is built
// either from a 32-byte secret (local side, can sign) or from a counterparty's
// compressed public key (verify only). The private scalar never leaves this
// struct and is never serialized.
type KeyMaterial struct {
	priv *btcec.PrivateKey
	pub  *btcec.PublicKey
	net  *chaincfg.Params
}

// NewKeyFromSecret builds signing key material from a hex-encoded 32-byte
// secret.
func NewKeyFromSecret(secretHex string, net *chaincfg.Params) (*KeyMaterial, error) {
	if net == nil {
		return nil, ErrMissingNetwork
	}
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret encoding: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	return &KeyMaterial{priv: priv, pub: pub, net: net}, nil
}

// NewKeyFromPublicKey builds verify-only key material from a hex-encoded
// compressed public key.
func NewKeyFromPublicKey(pubHex string, net *chaincfg.Params) (*KeyMaterial, error) {
	if net == nil {
		return nil, ErrMissingNetwork
	}
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return &KeyMaterial{pub: pub, net: net}, nil
}

func (k *KeyMaterial) PubKey() *btcec.PublicKey {
	return k.pub
}

func (k *KeyMaterial) PubKeyHex() string {
	return hex.EncodeToString(k.pub.SerializeCompressed())
}

// CanSign reports whether this key material carries the private scalar.
func (k *KeyMaterial) CanSign() bool {
	return k.priv != nil
}

// Address returns the P2PKH address of the public key on the bound network.
func (k *KeyMaterial) Address() (btcutil.Address, error) {
	pkHash := btcutil.Hash160(k.pub.SerializeCompressed())
	return btcutil.NewAddressPubKeyHash(pkHash, k.net)
}

// String renders only the public side, so key material is safe to log.
func (k *KeyMaterial) String() string {
	return k.PubKeyHex()
}
