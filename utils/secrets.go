package utils

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

func IsValidMnemonic(mnemonic string) error {
	words := strings.Fields(mnemonic)
	if len(words) != 12 {
		return fmt.Errorf("must have 12 words")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("invalid mnemonic")
	}
	return nil
}

func IsValidPrivateKey(privateKey string) error {
	if len(privateKey) != 64 {
		return fmt.Errorf("invalid private key")
	}
	if _, err := hex.DecodeString(privateKey); err != nil {
		return fmt.Errorf("invalid private key")
	}
	return nil
}

// PrivateKeyFromMnemonic derives the channel signing key at m/44'/0'/0'/0/0.
func PrivateKeyFromMnemonic(mnemonic string) (string, error) {
	seed := bip39.NewSeed(mnemonic, "")
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return "", err
	}

	derivationPath := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 0,
		bip32.FirstHardenedChild + 0,
		0,
		0,
	}

	next := key
	for _, idx := range derivationPath {
		var err error
		if next, err = next.NewChildKey(idx); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(next.Key), nil
}

// SecretToPrivateKeyHex accepts either a 64-char hex scalar or a 12-word
// mnemonic and normalizes to the hex form.
func SecretToPrivateKeyHex(secret string) (string, error) {
	secret = strings.TrimSpace(secret)
	if IsValidPrivateKey(secret) == nil {
		return secret, nil
	}
	if err := IsValidMnemonic(secret); err != nil {
		return "", fmt.Errorf("secret is neither a private key nor a mnemonic: %s", err)
	}
	return PrivateKeyFromMnemonic(secret)
}
