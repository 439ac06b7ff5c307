package paychan

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrMalformedSignature = errors.New("malformed claim signature")
	ErrClaimVerification  = errors.New("claim signature verification failed")
)

// SignClosing computes the SigHashAll signature hash of the transaction's
// single input bound to redeemScript and signs it. The returned bytes are the
// DER signature with the sighash type appended, ready to be pushed in a
// scriptSig. SigHashAll is fixed for the lifetime of the protocol; mixing
// modes across peers breaks settlement.
func SignClosing(tx *wire.MsgTx, redeemScript []byte, key *KeyMaterial) ([]byte, error) {
	if !key.CanSign() {
		return nil, ErrNoPrivateKey
	}
	return txscript.RawTxInSignature(tx, 0, redeemScript, txscript.SigHashAll, key.priv)
}

// VerifyClaim recomputes the SigHashAll hash of the transaction and checks
// the signature against expectedPub. The signature's own key claims are never
// trusted; only expectedPub counts.
func VerifyClaim(tx *wire.MsgTx, redeemScript, sig []byte, expectedPub *btcec.PublicKey) error {
	if len(sig) < 9 {
		return ErrMalformedSignature
	}
	hashType := txscript.SigHashType(sig[len(sig)-1])
	if hashType != txscript.SigHashAll {
		return fmt.Errorf("%w: unexpected sighash mode 0x%x", ErrMalformedSignature, sig[len(sig)-1])
	}
	parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedSignature, err)
	}
	hash, err := txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, 0)
	if err != nil {
		return err
	}
	if !parsed.Verify(hash, expectedPub) {
		return ErrClaimVerification
	}
	return nil
}

// CooperativeCloseScript assembles the unlocking script for the cooperative
// close branch: both signatures plus OP_FALSE to select the non-timeout path,
// followed by the serialized redeem script.
func CooperativeCloseScript(senderSig, receiverSig, redeemScript []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(senderSig)
	b.AddData(receiverSig)
	b.AddOp(txscript.OP_FALSE)
	b.AddData(redeemScript)
	return b.Script()
}

// ExpiryScript assembles the unlocking script for the refund branch: the
// sender's signature plus OP_TRUE to select the timeout path.
func ExpiryScript(senderSig, redeemScript []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(senderSig)
	b.AddOp(txscript.OP_TRUE)
	b.AddData(redeemScript)
	return b.Script()
}
