package domain

import "context"

type ChannelDirection int

const (
	ChannelIncoming ChannelDirection = iota
	ChannelOutgoing
)

func (d ChannelDirection) String() string {
	if d == ChannelIncoming {
		return "incoming"
	}
	return "outgoing"
}

type ChannelState int

const (
	ChannelUnfunded ChannelState = iota
	ChannelFunding
	ChannelOpen
	ChannelClosing
	ChannelClosed
	ChannelExpired
)

func (s ChannelState) String() string {
	switch s {
	case ChannelUnfunded:
		return "unfunded"
	case ChannelFunding:
		return "funding"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	case ChannelExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Claim is a voucher: a signature over the closing transaction paying exactly
// Amount to the receiver. Only the highest-amount valid claim matters; older
// ones are discarded.
type Claim struct {
	Amount    uint64
	Signature string // hex DER signature + sighash byte
}

// Channel is the persisted view of an escrow channel, enough to restore the
// engine across restarts.
type Channel struct {
	Direction    ChannelDirection
	State        ChannelState
	FundingTxID  string
	OutputIndex  uint32
	Capacity     uint64
	BestClaim    *Claim
	SettlementTx string // txid of the submitted closing or expiry transaction
}

// ChannelRepository stores one record per direction.
type ChannelRepository interface {
	Get(ctx context.Context, direction ChannelDirection) (*Channel, error)
	Upsert(ctx context.Context, channel Channel) error
	Close()
}
