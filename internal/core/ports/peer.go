package ports

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrPeerUnavailable marks transient peer RPC failures; safe to retry.
var ErrPeerUnavailable = errors.New("peer unavailable")

// TransferEnvelope is the wire form of a transfer. Amount travels as a
// decimal string in the smallest currency unit, ExpiresAt as an ISO-8601
// timestamp, ExecutionCondition as base64url(SHA-256 digest).
type TransferEnvelope struct {
	ID                 string `json:"id"`
	Amount             string `json:"amount"`
	ExecutionCondition string `json:"executionCondition"`
	ExpiresAt          string `json:"expiresAt"`
}

// PeerClient is the outbound side of the point-to-point RPC channel.
type PeerClient interface {
	SendMessage(ctx context.Context, message json.RawMessage) error
	SendTransfer(ctx context.Context, transfer TransferEnvelope) error
	// FulfillCondition returns the peer's claim signature (hex) on success.
	FulfillCondition(ctx context.Context, transferID, fulfillment string) (string, error)
	RejectTransfer(ctx context.Context, transferID, reason string) error
	GetOutgoingTxID(ctx context.Context) (string, error)
}
