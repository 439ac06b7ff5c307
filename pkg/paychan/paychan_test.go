package paychan_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/paychan-labs/paychand/pkg/paychan"
)

var (
	senderSecret   = strings.Repeat("11", 32)
	receiverSecret = strings.Repeat("22", 32)

	testTimeout  = int64(1e6)
	testCapacity = btcutil.Amount(100_000)
	testFee      = btcutil.Amount(1_000)
)

func testKeys(t *testing.T) (sender, receiver *paychan.KeyMaterial) {
	t.Helper()
	sender, err := paychan.NewKeyFromSecret(senderSecret, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	receiver, err = paychan.NewKeyFromSecret(receiverSecret, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	return sender, receiver
}

func fundingHash(t *testing.T) *chainhash.Hash {
	t.Helper()
	hash, err := chainhash.NewHashFromStr(
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	)
	require.NoError(t, err)
	return hash
}

func TestDeriveRedeemScript(t *testing.T) {
	sender, receiver := testKeys(t)

	t.Run("deterministic", func(t *testing.T) {
		first, err := paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), testTimeout)
		require.NoError(t, err)
		second, err := paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), testTimeout)
		require.NoError(t, err)
		require.True(t, bytes.Equal(first, second))

		firstDesc, err := paychan.OutputDescriptor(first)
		require.NoError(t, err)
		secondDesc, err := paychan.OutputDescriptor(second)
		require.NoError(t, err)
		require.True(t, bytes.Equal(firstDesc, secondDesc))

		firstAddr, err := paychan.ScriptAddress(first, &chaincfg.TestNet3Params)
		require.NoError(t, err)
		secondAddr, err := paychan.ScriptAddress(second, &chaincfg.TestNet3Params)
		require.NoError(t, err)
		require.Equal(t, firstAddr.String(), secondAddr.String())
	})

	t.Run("different inputs different scripts", func(t *testing.T) {
		first, err := paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), testTimeout)
		require.NoError(t, err)
		second, err := paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), testTimeout+1)
		require.NoError(t, err)
		require.False(t, bytes.Equal(first, second))
	})

	t.Run("invalid timeout", func(t *testing.T) {
		_, err := paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), 0)
		require.ErrorIs(t, err, paychan.ErrInvalidTimeout)

		_, err = paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), -1)
		require.ErrorIs(t, err, paychan.ErrInvalidTimeout)

		// Transaction locktimes are 32-bit; anything wider could never
		// be satisfied by an expiry transaction.
		_, err = paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), 1<<32)
		require.ErrorIs(t, err, paychan.ErrInvalidTimeout)
	})
}

func TestBuildClosing(t *testing.T) {
	sender, receiver := testKeys(t)
	senderAddr, err := sender.Address()
	require.NoError(t, err)
	receiverAddr, err := receiver.Address()
	require.NoError(t, err)

	t.Run("payout and change split", func(t *testing.T) {
		payout := btcutil.Amount(70_000)
		change := testCapacity - payout

		tx, err := paychan.BuildClosing(
			fundingHash(t), 0, payout, change, testFee, receiverAddr, senderAddr,
		)
		require.NoError(t, err)
		require.Len(t, tx.TxIn, 1)
		require.Len(t, tx.TxOut, 2)
		require.Equal(t, int64(payout), tx.TxOut[0].Value)
		require.Equal(t, int64(change-testFee), tx.TxOut[1].Value)

		receiverScript, err := txscript.PayToAddrScript(receiverAddr)
		require.NoError(t, err)
		require.True(t, bytes.Equal(receiverScript, tx.TxOut[0].PkScript))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		// Change cannot cover the fee.
		_, err := paychan.BuildClosing(
			fundingHash(t), 0, testCapacity, 0, testFee, receiverAddr, senderAddr,
		)
		require.ErrorIs(t, err, paychan.ErrInsufficientFunds)
	})
}

func TestBuildExpiry(t *testing.T) {
	sender, _ := testKeys(t)
	senderAddr, err := sender.Address()
	require.NoError(t, err)

	t.Run("locktime and sequence", func(t *testing.T) {
		tx, err := paychan.BuildExpiry(
			fundingHash(t), 1, testCapacity, testFee, testTimeout, senderAddr,
		)
		require.NoError(t, err)
		require.Equal(t, uint32(testTimeout), tx.LockTime)
		require.Equal(t, wire.MaxTxInSequenceNum-1, tx.TxIn[0].Sequence)
		require.Len(t, tx.TxOut, 1)
		require.Equal(t, int64(testCapacity-testFee), tx.TxOut[0].Value)
	})

	t.Run("invalid timeout", func(t *testing.T) {
		_, err := paychan.BuildExpiry(fundingHash(t), 1, testCapacity, testFee, 0, senderAddr)
		require.ErrorIs(t, err, paychan.ErrInvalidTimeout)

		_, err = paychan.BuildExpiry(fundingHash(t), 1, testCapacity, testFee, 1<<32, senderAddr)
		require.ErrorIs(t, err, paychan.ErrInvalidTimeout)
	})
}

func TestClaimSignAndVerify(t *testing.T) {
	sender, receiver := testKeys(t)
	senderAddr, err := sender.Address()
	require.NoError(t, err)
	receiverAddr, err := receiver.Address()
	require.NoError(t, err)

	script, err := paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), testTimeout)
	require.NoError(t, err)

	closing, err := paychan.BuildClosing(
		fundingHash(t), 0, 30_000, testCapacity-30_000, testFee, receiverAddr, senderAddr,
	)
	require.NoError(t, err)

	t.Run("roundtrip", func(t *testing.T) {
		sig, err := paychan.SignClosing(closing, script, sender)
		require.NoError(t, err)
		require.NoError(t, paychan.VerifyClaim(closing, script, sig, sender.PubKey()))
	})

	t.Run("tampered amount fails", func(t *testing.T) {
		sig, err := paychan.SignClosing(closing, script, sender)
		require.NoError(t, err)

		tampered, err := paychan.BuildClosing(
			fundingHash(t), 0, 30_001, testCapacity-30_001, testFee, receiverAddr, senderAddr,
		)
		require.NoError(t, err)
		require.ErrorIs(t,
			paychan.VerifyClaim(tampered, script, sig, sender.PubKey()),
			paychan.ErrClaimVerification,
		)
	})

	t.Run("wrong expected key fails", func(t *testing.T) {
		sig, err := paychan.SignClosing(closing, script, sender)
		require.NoError(t, err)
		require.ErrorIs(t,
			paychan.VerifyClaim(closing, script, sig, receiver.PubKey()),
			paychan.ErrClaimVerification,
		)
	})

	t.Run("malformed signature rejected", func(t *testing.T) {
		err := paychan.VerifyClaim(closing, script, []byte{0x01, 0x02}, sender.PubKey())
		require.ErrorIs(t, err, paychan.ErrMalformedSignature)
	})

	t.Run("verify only key cannot sign", func(t *testing.T) {
		verifyOnly, err := paychan.NewKeyFromPublicKey(sender.PubKeyHex(), &chaincfg.TestNet3Params)
		require.NoError(t, err)
		_, err = paychan.SignClosing(closing, script, verifyOnly)
		require.ErrorIs(t, err, paychan.ErrNoPrivateKey)
	})
}

// Both spend paths are executed against the funding output with the real
// script engine, not just checked structurally.
func TestSpendPaths(t *testing.T) {
	sender, receiver := testKeys(t)
	senderAddr, err := sender.Address()
	require.NoError(t, err)
	receiverAddr, err := receiver.Address()
	require.NoError(t, err)

	script, err := paychan.DeriveRedeemScript(sender.PubKey(), receiver.PubKey(), testTimeout)
	require.NoError(t, err)
	fundingScript, err := paychan.OutputDescriptor(script)
	require.NoError(t, err)

	execute := func(t *testing.T, tx *wire.MsgTx) error {
		t.Helper()
		prevOuts := txscript.NewCannedPrevOutputFetcher(fundingScript, int64(testCapacity))
		vm, err := txscript.NewEngine(
			fundingScript, tx, 0, txscript.StandardVerifyFlags, nil, nil,
			int64(testCapacity), prevOuts,
		)
		require.NoError(t, err)
		return vm.Execute()
	}

	t.Run("cooperative close", func(t *testing.T) {
		tx, err := paychan.BuildClosing(
			fundingHash(t), 0, 70_000, 30_000, testFee, receiverAddr, senderAddr,
		)
		require.NoError(t, err)

		senderSig, err := paychan.SignClosing(tx, script, sender)
		require.NoError(t, err)
		receiverSig, err := paychan.SignClosing(tx, script, receiver)
		require.NoError(t, err)

		closeScript, err := paychan.CooperativeCloseScript(senderSig, receiverSig, script)
		require.NoError(t, err)
		tx.TxIn[0].SignatureScript = closeScript

		require.NoError(t, execute(t, tx))
	})

	t.Run("cooperative close missing receiver sig fails", func(t *testing.T) {
		tx, err := paychan.BuildClosing(
			fundingHash(t), 0, 70_000, 30_000, testFee, receiverAddr, senderAddr,
		)
		require.NoError(t, err)

		senderSig, err := paychan.SignClosing(tx, script, sender)
		require.NoError(t, err)

		closeScript, err := paychan.CooperativeCloseScript(senderSig, senderSig, script)
		require.NoError(t, err)
		tx.TxIn[0].SignatureScript = closeScript

		require.Error(t, execute(t, tx))
	})

	t.Run("expiry refund", func(t *testing.T) {
		tx, err := paychan.BuildExpiry(
			fundingHash(t), 0, testCapacity, testFee, testTimeout, senderAddr,
		)
		require.NoError(t, err)

		senderSig, err := paychan.SignClosing(tx, script, sender)
		require.NoError(t, err)

		expiryScript, err := paychan.ExpiryScript(senderSig, script)
		require.NoError(t, err)
		tx.TxIn[0].SignatureScript = expiryScript

		require.NoError(t, execute(t, tx))
	})

	t.Run("expiry before locktime fails", func(t *testing.T) {
		tx, err := paychan.BuildExpiry(
			fundingHash(t), 0, testCapacity, testFee, testTimeout, senderAddr,
		)
		require.NoError(t, err)
		// A transaction claiming an earlier locktime than the script demands
		// must not validate.
		tx.LockTime = uint32(testTimeout - 1)

		senderSig, err := paychan.SignClosing(tx, script, sender)
		require.NoError(t, err)

		expiryScript, err := paychan.ExpiryScript(senderSig, script)
		require.NoError(t, err)
		tx.TxIn[0].SignatureScript = expiryScript

		require.Error(t, execute(t, tx))
	})
}
