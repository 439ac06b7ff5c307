package application

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/paychan-labs/paychand/internal/core/domain"
	"github.com/paychan-labs/paychand/internal/core/ports"
)

// TransferLog tracks the lifecycle of conditional transfers and arbitrates
// the race between fulfillment and expiry. A single mutex serializes all
// transitions; whichever of Fulfill and the expiry timer acquires it first
// wins, the loser observes a terminal state and backs off.
type TransferLog struct {
	mu        sync.Mutex
	repo      domain.TransferRepository
	scheduler ports.SchedulerService
	inFlight  *balance

	// onExpired runs outside the lock after a transfer is cancelled by its
	// timer. Optional.
	onExpired func(transfer domain.Transfer)
}

func NewTransferLog(
	repo domain.TransferRepository,
	scheduler ports.SchedulerService,
	inFlight *balance,
	onExpired func(transfer domain.Transfer),
) *TransferLog {
	return &TransferLog{
		repo:      repo,
		scheduler: scheduler,
		inFlight:  inFlight,
		onExpired: onExpired,
	}
}

// Open records a proposed transfer and schedules its expiry. The returned
// bool reports whether this call created the record: retries with identical
// fields return the stored record and false without side effects, while
// reusing an id with different fields fails with ErrTransferConflict.
// Incoming transfers reserve the in-flight allowance and are refused once
// the reservation would exceed it.
func (l *TransferLog) Open(
	ctx context.Context, transfer domain.Transfer,
) (*domain.Transfer, bool, error) {
	if err := validateTransfer(transfer); err != nil {
		return nil, false, err
	}
	transfer.State = domain.TransferProposed

	l.mu.Lock()
	defer l.mu.Unlock()

	if stored, err := l.repo.Get(ctx, transfer.ID); err == nil {
		if !stored.SameRequest(transfer) {
			return nil, false, fmt.Errorf("%w: %s", ErrTransferConflict, transfer.ID)
		}
		return stored, false, nil
	}

	if transfer.Direction == domain.TransferIncoming {
		if err := l.inFlight.Add(ctx, transfer.Amount); err != nil {
			return nil, false, err
		}
	}

	if err := l.repo.Add(ctx, transfer); err != nil {
		if transfer.Direction == domain.TransferIncoming {
			if rbErr := l.inFlight.Subtract(ctx, transfer.Amount); rbErr != nil {
				log.WithError(rbErr).Warn("failed to roll back in-flight reservation")
			}
		}
		return nil, false, err
	}

	if err := l.scheduler.ScheduleTransferExpiry(
		transfer.ID, transfer.ExpiresAt, l.expireFunc(transfer.ID),
	); err != nil {
		log.WithError(err).WithField("transfer", transfer.ID).
			Warn("failed to schedule transfer expiry")
	}

	log.WithFields(log.Fields{
		"transfer":  transfer.ID,
		"amount":    transfer.Amount,
		"direction": transfer.Direction.String(),
	}).Debug("transfer proposed")
	return &transfer, true, nil
}

// Fulfill transitions a proposed transfer to executed if the preimage hashes
// to its execution condition. The returned bool reports whether this call
// performed the transition: a transfer already executed with the same
// fulfillment returns (transfer, false, nil) so retries stay idempotent.
// An expired or cancelled transfer cannot be revived.
func (l *TransferLog) Fulfill(
	ctx context.Context, id, fulfillment string,
) (*domain.Transfer, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}

	switch stored.State {
	case domain.TransferExecuted:
		if stored.Fulfillment != fulfillment {
			return nil, false, fmt.Errorf("%w: %s", ErrConditionMismatch, id)
		}
		return stored, false, nil
	case domain.TransferCancelled:
		return nil, false, fmt.Errorf(
			"transfer %s already cancelled: %s", id, stored.CancelReason,
		)
	}

	if !conditionMatches(stored.ExecutionCondition, fulfillment) {
		// The transfer stays proposed; a later retry with the right
		// preimage may still succeed before expiry.
		return nil, false, fmt.Errorf("%w: %s", ErrConditionMismatch, id)
	}

	next := *stored
	next.State = domain.TransferExecuted
	next.Fulfillment = fulfillment
	if err := l.repo.Update(ctx, next); err != nil {
		return nil, false, err
	}
	l.scheduler.CancelTransferExpiry(id)

	log.WithField("transfer", id).Debug("transfer executed")
	return &next, true, nil
}

// Cancel moves a proposed transfer to cancelled and releases its in-flight
// reservation. Cancelling a terminal transfer is a no-op returning the
// stored record.
func (l *TransferLog) Cancel(ctx context.Context, id, reason string) (*domain.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelLocked(ctx, id, reason)
}

func (l *TransferLog) cancelLocked(
	ctx context.Context, id, reason string,
) (*domain.Transfer, error) {
	stored, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	if stored.State.Terminal() {
		return stored, nil
	}

	next := *stored
	next.State = domain.TransferCancelled
	next.CancelReason = reason
	if err := l.repo.Update(ctx, next); err != nil {
		return nil, err
	}
	l.scheduler.CancelTransferExpiry(id)

	if next.Direction == domain.TransferIncoming {
		if err := l.inFlight.Subtract(ctx, next.Amount); err != nil {
			log.WithError(err).WithField("transfer", id).
				Warn("failed to release in-flight reservation")
		}
	}

	log.WithFields(log.Fields{
		"transfer": id,
		"reason":   reason,
	}).Debug("transfer cancelled")
	return &next, nil
}

// MarkSettled records that an executed transfer's value has been committed on
// the channel and returns an incoming transfer's amount to the in-flight
// allowance. Settling twice is a no-op, so the reservation is released once.
func (l *TransferLog) MarkSettled(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	if stored.State != domain.TransferExecuted {
		return fmt.Errorf("transfer %s is not executed", id)
	}
	if stored.Settled {
		return nil
	}

	next := *stored
	next.Settled = true
	if err := l.repo.Update(ctx, next); err != nil {
		return err
	}
	if next.Direction == domain.TransferIncoming {
		if err := l.inFlight.Subtract(ctx, next.Amount); err != nil {
			log.WithError(err).WithField("transfer", id).
				Warn("failed to release in-flight reservation")
		}
	}
	return nil
}

func (l *TransferLog) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	return stored, nil
}

// RestoreTimers re-arms expiry timers for transfers that were still proposed
// when the process last stopped. Past deadlines fire immediately.
func (l *TransferLog) RestoreTimers(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	transfers, err := l.repo.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, transfer := range transfers {
		if transfer.State.Terminal() {
			continue
		}
		if err := l.scheduler.ScheduleTransferExpiry(
			transfer.ID, transfer.ExpiresAt, l.expireFunc(transfer.ID),
		); err != nil {
			log.WithError(err).WithField("transfer", transfer.ID).
				Warn("failed to restore transfer expiry")
		}
	}
	return nil
}

func (l *TransferLog) expireFunc(id string) func() {
	return func() {
		ctx := context.Background()

		l.mu.Lock()
		transfer, err := l.cancelLocked(ctx, id, "expired")
		l.mu.Unlock()
		if err != nil {
			log.WithError(err).WithField("transfer", id).
				Warn("transfer expiry failed")
			return
		}
		// Already executed or cancelled before the timer fired.
		if transfer.State != domain.TransferCancelled || transfer.CancelReason != "expired" {
			return
		}
		if l.onExpired != nil {
			l.onExpired(*transfer)
		}
	}
}

func validateTransfer(transfer domain.Transfer) error {
	if len(transfer.ID) <= 0 {
		return fmt.Errorf("%w: missing transfer id", ErrInvalidFields)
	}
	if transfer.Amount == 0 {
		return fmt.Errorf("%w: transfer amount must be positive", ErrInvalidFields)
	}
	if err := validateCondition(transfer.ExecutionCondition); err != nil {
		return err
	}
	if transfer.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing transfer expiry", ErrInvalidFields)
	}
	return nil
}

func validateCondition(condition string) error {
	buf, err := base64.RawURLEncoding.DecodeString(condition)
	if err != nil {
		return fmt.Errorf("%w: execution condition is not base64url", ErrInvalidFields)
	}
	if len(buf) != sha256.Size {
		return fmt.Errorf("%w: execution condition must be a 32-byte digest", ErrInvalidFields)
	}
	return nil
}

func conditionMatches(condition, fulfillment string) bool {
	preimage, err := base64.RawURLEncoding.DecodeString(fulfillment)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(preimage)
	return condition == base64.RawURLEncoding.EncodeToString(digest[:])
}
