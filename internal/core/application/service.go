package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/paychan-labs/paychand/internal/core/domain"
	"github.com/paychan-labs/paychand/internal/core/ports"
	"github.com/paychan-labs/paychand/pkg/paychan"
)

const (
	ledgerPrefix  = "g.crypto.bitcoin"
	currencyCode  = "BTC"
	currencyScale = 8
)

// LedgerInfo describes the ledger this daemon settles on.
type LedgerInfo struct {
	Prefix        string `json:"prefix"`
	CurrencyCode  string `json:"currencyCode"`
	CurrencyScale int    `json:"currencyScale"`
}

// ServiceOpts carries everything needed to run one channel pair against one
// peer.
type ServiceOpts struct {
	LocalKey      *paychan.KeyMaterial
	PeerKey       *paychan.KeyMaterial
	Timeout       int64
	ChannelAmount uint64
	Fee           uint64
	MaxInFlight   uint64
	Net           *chaincfg.Params

	// IncomingTxID optionally pins the peer's funding txid so Connect
	// does not have to ask for it.
	IncomingTxID string
}

// Service is the application facade: one outgoing and one incoming channel,
// a shared transfer log, and the peer RPC glue between them.
type Service struct {
	opts      ServiceOpts
	outgoing  *Channel
	incoming  *Channel
	transfers *TransferLog
	peer      ports.PeerClient
	node      ports.NodeService
	scheduler ports.SchedulerService
	repos     ports.RepoManager
	events    *notifier
}

func NewService(
	opts ServiceOpts,
	node ports.NodeService,
	repos ports.RepoManager,
	scheduler ports.SchedulerService,
	peer ports.PeerClient,
) (*Service, error) {
	if opts.MaxInFlight == 0 {
		return nil, fmt.Errorf("%w: missing in-flight limit", ErrInvalidFields)
	}

	ctx := context.Background()

	outgoing, err := NewChannel(ctx, ChannelOpts{
		Direction: domain.ChannelOutgoing,
		LocalKey:  opts.LocalKey,
		PeerKey:   opts.PeerKey,
		Timeout:   opts.Timeout,
		Capacity:  opts.ChannelAmount,
		Fee:       opts.Fee,
		Net:       opts.Net,
	}, node, repos)
	if err != nil {
		return nil, err
	}
	incoming, err := NewChannel(ctx, ChannelOpts{
		Direction: domain.ChannelIncoming,
		LocalKey:  opts.LocalKey,
		PeerKey:   opts.PeerKey,
		Timeout:   opts.Timeout,
		Fee:       opts.Fee,
		Net:       opts.Net,
	}, node, repos)
	if err != nil {
		return nil, err
	}

	inFlight, err := newBalance(ctx, repos.Balances(), "inflight", opts.MaxInFlight)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		opts:      opts,
		outgoing:  outgoing,
		incoming:  incoming,
		peer:      peer,
		node:      node,
		scheduler: scheduler,
		repos:     repos,
		events:    newNotifier(),
	}
	svc.transfers = NewTransferLog(
		repos.Transfers(), scheduler, inFlight, svc.onTransferExpired,
	)
	return svc, nil
}

// On subscribes a handler to an event type. Handlers run synchronously on
// the goroutine performing the transition and must not block.
func (s *Service) On(eventType EventType, handler EventHandler) {
	s.events.subscribe(eventType, handler)
}

// Connect brings both channels up: funds and loads the outgoing escrow, then
// asks the peer for its funding txid to open the incoming one. A peer that is
// not reachable yet leaves the incoming channel pending; a later Connect or
// the peer's own handshake completes it.
func (s *Service) Connect(ctx context.Context) error {
	s.scheduler.Start()

	if _, err := s.outgoing.Fund(ctx); err != nil {
		return err
	}
	if err := s.outgoing.Load(ctx, ""); err != nil {
		return err
	}

	incomingTxID := s.opts.IncomingTxID
	if len(incomingTxID) <= 0 && s.incoming.State() != domain.ChannelOpen {
		txid, err := s.peer.GetOutgoingTxID(ctx)
		if err != nil {
			log.WithError(err).Warn("peer funding txid not available yet")
		} else {
			incomingTxID = txid
		}
	}
	if len(incomingTxID) > 0 {
		if err := s.incoming.Load(ctx, incomingTxID); err != nil {
			return err
		}
	}

	return s.transfers.RestoreTimers(ctx)
}

// Disconnect settles the incoming channel with the best claim received and
// stops the expiry timers.
func (s *Service) Disconnect(ctx context.Context) error {
	defer s.scheduler.Stop()

	if s.incoming.BestClaim() == nil {
		return nil
	}
	if _, err := s.incoming.Close(ctx); err != nil {
		return err
	}
	return nil
}

// Prefix is the ledger address prefix shared by both participants. It is
// derived from the two funding txids sorted lexicographically, so both sides
// compute the same value, and is only defined once both channels are loaded.
func (s *Service) Prefix() (string, error) {
	outgoingTxID := s.outgoing.FundingTxID()
	incomingTxID := s.incoming.FundingTxID()
	if len(outgoingTxID) <= 0 || len(incomingTxID) <= 0 {
		return "", fmt.Errorf("%w: channels not loaded yet", ErrChannelNotOpen)
	}
	txids := []string{outgoingTxID, incomingTxID}
	sort.Strings(txids)
	return ledgerPrefix + "." + strings.Join(txids, ".") + ".", nil
}

// Account is this participant's ledger address.
func (s *Service) Account() (string, error) {
	prefix, err := s.Prefix()
	if err != nil {
		return "", err
	}
	addr, err := s.opts.LocalKey.Address()
	if err != nil {
		return "", err
	}
	return prefix + addr.String(), nil
}

func (s *Service) Info() (*LedgerInfo, error) {
	prefix, err := s.Prefix()
	if err != nil {
		return nil, err
	}
	return &LedgerInfo{
		Prefix:        prefix,
		CurrencyCode:  currencyCode,
		CurrencyScale: currencyScale,
	}, nil
}

// Balances reports the channel pair's current allocation.
func (s *Service) Balances() (outgoing, incoming uint64) {
	return s.outgoing.Balance(), s.incoming.Balance()
}

func (s *Service) OutgoingChannel() *Channel { return s.outgoing }
func (s *Service) IncomingChannel() *Channel { return s.incoming }

// SendMessage relays an opaque message to the peer.
func (s *Service) SendMessage(ctx context.Context, message json.RawMessage) error {
	return s.peer.SendMessage(ctx, message)
}

// HandleSendMessage delivers a peer message to subscribers.
func (s *Service) HandleSendMessage(ctx context.Context, message json.RawMessage) error {
	s.events.publish(Event{Type: EventIncomingMessage, Message: message})
	return nil
}

// SendTransfer proposes an outgoing conditional transfer and forwards it to
// the peer. An empty id gets a fresh uuid. If the peer cannot be reached the
// transfer is cancelled locally so no phantom proposal lingers.
func (s *Service) SendTransfer(ctx context.Context, envelope ports.TransferEnvelope) error {
	if len(envelope.ID) <= 0 {
		envelope.ID = uuid.NewString()
	}
	transfer, err := envelopeToTransfer(envelope, domain.TransferOutgoing)
	if err != nil {
		return err
	}

	stored, created, err := s.transfers.Open(ctx, *transfer)
	if err != nil {
		return err
	}
	if created {
		s.events.publish(Event{Type: EventOutgoingPrepare, Transfer: stored})
	}

	if err := s.peer.SendTransfer(ctx, envelope); err != nil {
		if _, cancelErr := s.transfers.Cancel(ctx, envelope.ID, "peer unreachable"); cancelErr != nil {
			log.WithError(cancelErr).WithField("transfer", envelope.ID).
				Warn("failed to cancel unsent transfer")
		}
		return err
	}
	return nil
}

// HandleSendTransfer records a transfer proposed by the peer. Duplicate
// submissions succeed silently; conflicting id reuse is refused.
func (s *Service) HandleSendTransfer(ctx context.Context, envelope ports.TransferEnvelope) error {
	transfer, err := envelopeToTransfer(envelope, domain.TransferIncoming)
	if err != nil {
		return err
	}

	stored, created, err := s.transfers.Open(ctx, *transfer)
	if err != nil {
		return err
	}
	if created {
		s.events.publish(Event{Type: EventIncomingPrepare, Transfer: stored})
	}
	return nil
}

// FulfillCondition executes an incoming transfer: the preimage is checked
// locally, presented to the peer in exchange for a claim, and the claim is
// verified and committed on the incoming channel. Execution and settlement
// are separate steps: when the peer is unreachable or its claim fails
// verification the transfer stays executed but unsettled, its in-flight
// reservation held, and a retry resumes at the settlement step.
func (s *Service) FulfillCondition(ctx context.Context, transferID, fulfillment string) error {
	transfer, err := s.transfers.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Direction != domain.TransferIncoming {
		return fmt.Errorf("%w: transfer %s is not incoming", ErrInvalidFields, transferID)
	}

	transfer, transitioned, err := s.transfers.Fulfill(ctx, transferID, fulfillment)
	if err != nil {
		return err
	}
	if transitioned {
		s.events.publish(Event{
			Type: EventIncomingFulfill, Transfer: transfer, Fulfillment: fulfillment,
		})
	}
	if transfer.Settled {
		return nil
	}

	sigHex, err := s.peer.FulfillCondition(ctx, transferID, fulfillment)
	if err != nil {
		return err
	}

	if err := s.incoming.AcceptClaimDelta(ctx, transfer.Amount, sigHex); err != nil {
		return err
	}
	return s.transfers.MarkSettled(ctx, transferID)
}

// HandleFulfillCondition executes an outgoing transfer on the peer's behalf
// and answers with a claim covering the new channel balance. Replays of an
// executed transfer are answered with the current best claim, which covers
// at least the amount the caller is owed.
func (s *Service) HandleFulfillCondition(
	ctx context.Context, transferID, fulfillment string,
) (string, error) {
	transfer, err := s.transfers.Get(ctx, transferID)
	if err != nil {
		return "", err
	}
	if transfer.Direction != domain.TransferOutgoing {
		return "", fmt.Errorf("%w: transfer %s is not outgoing", ErrInvalidFields, transferID)
	}

	transfer, transitioned, err := s.transfers.Fulfill(ctx, transferID, fulfillment)
	if err != nil {
		return "", err
	}
	if !transitioned {
		if claim := s.outgoing.BestClaim(); claim != nil {
			return claim.Signature, nil
		}
		return "", ErrNoClaim
	}

	sigHex, err := s.outgoing.IssueClaimDelta(ctx, transfer.Amount)
	if err != nil {
		return "", err
	}
	s.events.publish(Event{
		Type: EventOutgoingFulfill, Transfer: transfer, Fulfillment: fulfillment,
	})
	return sigHex, nil
}

// RejectIncomingTransfer refuses an incoming transfer before its expiry and
// notifies the peer.
func (s *Service) RejectIncomingTransfer(ctx context.Context, transferID, reason string) error {
	transfer, err := s.transfers.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Direction != domain.TransferIncoming {
		return fmt.Errorf("%w: transfer %s is not incoming", ErrInvalidFields, transferID)
	}
	wasTerminal := transfer.State.Terminal()

	transfer, err = s.transfers.Cancel(ctx, transferID, reason)
	if err != nil {
		return err
	}
	if !wasTerminal && transfer.State == domain.TransferCancelled {
		s.events.publish(Event{
			Type: EventIncomingReject, Transfer: transfer, Reason: reason,
		})
	}

	if err := s.peer.RejectTransfer(ctx, transferID, reason); err != nil {
		log.WithError(err).WithField("transfer", transferID).
			Warn("failed to notify peer of rejection")
	}
	return nil
}

// HandleRejectTransfer cancels an outgoing transfer the peer refused.
func (s *Service) HandleRejectTransfer(ctx context.Context, transferID, reason string) error {
	transfer, err := s.transfers.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Direction != domain.TransferOutgoing {
		return fmt.Errorf("%w: transfer %s is not outgoing", ErrInvalidFields, transferID)
	}
	wasTerminal := transfer.State.Terminal()

	transfer, err = s.transfers.Cancel(ctx, transferID, reason)
	if err != nil {
		return err
	}
	if !wasTerminal && transfer.State == domain.TransferCancelled {
		s.events.publish(Event{
			Type: EventOutgoingReject, Transfer: transfer, Reason: reason,
		})
	}
	return nil
}

// GetOutgoingTxID serves the funding txid of the local outgoing channel, for
// the peer's handshake.
func (s *Service) GetOutgoingTxID(ctx context.Context) (string, error) {
	txid := s.outgoing.FundingTxID()
	if len(txid) <= 0 {
		return "", fmt.Errorf("%w: outgoing channel not funded", ErrChannelNotOpen)
	}
	return txid, nil
}

// ExpireOutgoing reclaims the outgoing escrow through the timeout branch.
func (s *Service) ExpireOutgoing(ctx context.Context) (string, error) {
	return s.outgoing.Expire(ctx)
}

// CloseIncoming settles the incoming channel cooperatively.
func (s *Service) CloseIncoming(ctx context.Context) (string, error) {
	return s.incoming.Close(ctx)
}

func (s *Service) Stop() {
	s.scheduler.Stop()
	s.repos.Close()
	s.node.Close()
}

func (s *Service) onTransferExpired(transfer domain.Transfer) {
	eventType := EventIncomingCancel
	if transfer.Direction == domain.TransferOutgoing {
		eventType = EventOutgoingCancel
	}
	s.events.publish(Event{
		Type: eventType, Transfer: &transfer, Reason: transfer.CancelReason,
	})
}

func envelopeToTransfer(
	envelope ports.TransferEnvelope, direction domain.TransferDirection,
) (*domain.Transfer, error) {
	if len(envelope.ID) <= 0 {
		return nil, fmt.Errorf("%w: missing transfer id", ErrInvalidFields)
	}
	amount, err := strconv.ParseUint(envelope.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: amount must be a decimal string", ErrInvalidFields)
	}
	if err := validateCondition(envelope.ExecutionCondition); err != nil {
		return nil, err
	}
	expiresAt, err := time.Parse(time.RFC3339, envelope.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: expiresAt must be an ISO-8601 timestamp", ErrInvalidFields)
	}
	return &domain.Transfer{
		ID:                 envelope.ID,
		Amount:             amount,
		ExecutionCondition: envelope.ExecutionCondition,
		ExpiresAt:          expiresAt,
		Direction:          direction,
	}, nil
}

// TransferToEnvelope is the inverse of the wire decoding, used when relaying
// a stored transfer back out.
func TransferToEnvelope(transfer domain.Transfer) ports.TransferEnvelope {
	return ports.TransferEnvelope{
		ID:                 transfer.ID,
		Amount:             strconv.FormatUint(transfer.Amount, 10),
		ExecutionCondition: transfer.ExecutionCondition,
		ExpiresAt:          transfer.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
