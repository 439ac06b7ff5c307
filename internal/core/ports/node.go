package ports

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNodeUnavailable marks transient node failures; callers may retry
	// with backoff.
	ErrNodeUnavailable = errors.New("bitcoin node unavailable")
	// ErrTxRejected marks a submission the network refused; retrying the
	// same transaction is pointless.
	ErrTxRejected = errors.New("transaction rejected by network")
)

type TxOutput struct {
	Value  uint64
	Script []byte
}

type NodeTransaction struct {
	Outputs       []TxOutput
	Confirmations int64
}

// ChainTime is the node's view of current chain progress. Locktimes below
// the consensus threshold are compared against Height, the rest against
// MedianTime.
type ChainTime struct {
	Height     int64
	MedianTime int64
}

// NodeService is the external Bitcoin node interface.
type NodeService interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error)
	GetTransaction(ctx context.Context, txid string) (*NodeTransaction, error)
	GetChainTime(ctx context.Context) (*ChainTime, error)
	// FundAddress has the node wallet pay amount (smallest units) to the
	// given address and returns the funding txid.
	FundAddress(ctx context.Context, address string, amount uint64) (string, error)
	Close()
}
