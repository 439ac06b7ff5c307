package domain

import (
	"context"
	"time"
)

type TransferState int

const (
	TransferProposed TransferState = iota
	TransferExecuted
	TransferCancelled
)

func (s TransferState) String() string {
	switch s {
	case TransferProposed:
		return "proposed"
	case TransferExecuted:
		return "executed"
	case TransferCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is permitted from this
// state.
func (s TransferState) Terminal() bool {
	return s == TransferExecuted || s == TransferCancelled
}

type TransferDirection int

const (
	TransferIncoming TransferDirection = iota
	TransferOutgoing
)

func (d TransferDirection) String() string {
	if d == TransferIncoming {
		return "incoming"
	}
	return "outgoing"
}

// Transfer is a conditional (hashlocked) value transfer tracked by the ledger.
// Ids are peer-chosen, globally unique within the channel pair and never
// reused.
type Transfer struct {
	ID                 string
	Amount             uint64
	ExecutionCondition string // base64url(SHA-256 digest)
	ExpiresAt          time.Time
	Direction          TransferDirection
	State              TransferState
	Fulfillment        string // base64url preimage, set once executed
	// Settled marks an executed transfer whose value has been committed
	// on the channel. Execution and settlement are separate steps; a
	// retry resumes settlement when the first attempt lost the peer.
	Settled      bool
	CancelReason string
}

// SameRequest reports whether another submission carries the same immutable
// fields, i.e. is a retry of this transfer rather than a conflicting reuse of
// its id.
func (t Transfer) SameRequest(other Transfer) bool {
	return t.ID == other.ID &&
		t.Amount == other.Amount &&
		t.ExecutionCondition == other.ExecutionCondition &&
		t.ExpiresAt.Equal(other.ExpiresAt) &&
		t.Direction == other.Direction
}

// TransferRepository stores transfer records keyed by id.
type TransferRepository interface {
	Get(ctx context.Context, id string) (*Transfer, error)
	Add(ctx context.Context, transfer Transfer) error
	Update(ctx context.Context, transfer Transfer) error
	GetAll(ctx context.Context) ([]Transfer, error)
	Close()
}
