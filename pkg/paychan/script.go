package paychan

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Transaction locktimes are 32-bit; a timeout outside that range could be
// committed to the script but never satisfied by any expiry transaction.
var ErrInvalidTimeout = errors.New("timeout must be a positive 32-bit locktime")

func validTimeout(timeout int64) bool {
	return timeout > 0 && timeout < 1<<32
}

// DeriveRedeemScript builds the escrow redeem script committed to by the
// funding output:
//
//	OP_IF
//	    <timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	OP_ELSE
//	    <receiverPub> OP_CHECKSIGVERIFY
//	OP_ENDIF
//	<senderPub> OP_CHECKSIG
//
// The true branch is the refund path, spendable by the sender alone once the
// absolute locktime matures. The false branch is the cooperative close path,
// requiring both signatures. The absolute-locktime choice (CLTV, never CSV)
// is part of the wire contract and fixed per deployment.
//
// The encoding is deterministic: identical inputs always produce
// byte-identical scripts, which the funding output's script hash relies on.
func DeriveRedeemScript(senderPub, receiverPub *btcec.PublicKey, timeout int64) ([]byte, error) {
	if !validTimeout(timeout) {
		return nil, ErrInvalidTimeout
	}
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF)
	b.AddInt64(timeout)
	b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddOp(txscript.OP_ELSE)
	b.AddData(receiverPub.SerializeCompressed())
	b.AddOp(txscript.OP_CHECKSIGVERIFY)
	b.AddOp(txscript.OP_ENDIF)
	b.AddData(senderPub.SerializeCompressed())
	b.AddOp(txscript.OP_CHECKSIG)
	return b.Script()
}

// OutputDescriptor returns the P2SH output script (pkScript) paying to the
// hash of the given redeem script. Funding transaction outputs are matched
// against this byte string.
func OutputDescriptor(redeemScript []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_HASH160)
	b.AddData(btcutil.Hash160(redeemScript))
	b.AddOp(txscript.OP_EQUAL)
	return b.Script()
}

// ScriptAddress returns the P2SH address of the redeem script on the given
// network.
func ScriptAddress(redeemScript []byte, net *chaincfg.Params) (btcutil.Address, error) {
	if net == nil {
		return nil, ErrMissingNetwork
	}
	return btcutil.NewAddressScriptHash(redeemScript, net)
}
