package paychan

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const txVersion = 2

var ErrInsufficientFunds = errors.New("payout plus fee exceeds channel capacity")

// BuildClosing returns the unsigned settlement transaction spending the
// funding outpoint into two outputs: the receiver payout and the sender
// change. The fee comes out of the change output. Fails with
// ErrInsufficientFunds when payout+fee would exceed payout+change (the
// channel capacity).
func BuildClosing(
	fundingTxID *chainhash.Hash, outputIndex uint32,
	payout, change, fee btcutil.Amount,
	receiver, sender btcutil.Address,
) (*wire.MsgTx, error) {
	if payout < 0 || change < 0 || fee < 0 {
		return nil, errors.New("amounts must be non-negative")
	}
	if fee > change {
		return nil, ErrInsufficientFunds
	}

	receiverScript, err := txscript.PayToAddrScript(receiver)
	if err != nil {
		return nil, err
	}
	senderScript, err := txscript.PayToAddrScript(sender)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(fundingTxID, outputIndex), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(payout), receiverScript))
	tx.AddTxOut(wire.NewTxOut(int64(change-fee), senderScript))
	return tx, nil
}

// BuildExpiry returns the unsigned refund transaction spending the full
// funding output back to the sender minus fee. The transaction locktime is
// set to the channel timeout and the input sequence is final-but-not-max so
// consensus rules enforce the locktime.
func BuildExpiry(
	fundingTxID *chainhash.Hash, outputIndex uint32,
	refund, fee btcutil.Amount, timeout int64,
	sender btcutil.Address,
) (*wire.MsgTx, error) {
	if !validTimeout(timeout) {
		return nil, ErrInvalidTimeout
	}
	if refund < 0 || fee < 0 {
		return nil, errors.New("amounts must be non-negative")
	}
	if fee > refund {
		return nil, ErrInsufficientFunds
	}

	senderScript, err := txscript.PayToAddrScript(sender)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	in := wire.NewTxIn(wire.NewOutPoint(fundingTxID, outputIndex), nil, nil)
	in.Sequence = wire.MaxTxInSequenceNum - 1
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(int64(refund-fee), senderScript))
	tx.LockTime = uint32(timeout)
	return tx, nil
}
