package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/paychan-labs/paychand/internal/core/domain"
)

const transferDir = "transfers"

type transferRepository struct {
	store *badgerhold.Store
}

func NewTransferRepository(baseDir string, logger badger.Logger) (domain.TransferRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, transferDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open transfer store: %s", err)
	}
	return &transferRepository{store}, nil
}

func (r *transferRepository) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	var data transferData
	err := r.store.Get(id, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("transfer %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	transfer := data.toTransfer()
	return &transfer, nil
}

func (r *transferRepository) Add(ctx context.Context, transfer domain.Transfer) error {
	if err := r.store.Insert(transfer.ID, toTransferData(transfer)); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("transfer %s already exists", transfer.ID)
		}
		return err
	}
	return nil
}

func (r *transferRepository) Update(ctx context.Context, transfer domain.Transfer) error {
	return r.store.Update(transfer.ID, toTransferData(transfer))
}

func (r *transferRepository) GetAll(ctx context.Context) ([]domain.Transfer, error) {
	var data []transferData
	if err := r.store.Find(&data, nil); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	transfers := make([]domain.Transfer, 0, len(data))
	for _, d := range data {
		transfers = append(transfers, d.toTransfer())
	}
	return transfers, nil
}

func (r *transferRepository) Close() {
	// nolint:all
	r.store.Close()
}

type transferData struct {
	ID                 string
	Amount             uint64
	ExecutionCondition string
	ExpiresAt          int64 // unix nanoseconds
	Direction          int
	State              int
	Fulfillment        string
	Settled            bool
	CancelReason       string
}

func toTransferData(t domain.Transfer) transferData {
	return transferData{
		ID:                 t.ID,
		Amount:             t.Amount,
		ExecutionCondition: t.ExecutionCondition,
		ExpiresAt:          t.ExpiresAt.UnixNano(),
		Direction:          int(t.Direction),
		State:              int(t.State),
		Fulfillment:        t.Fulfillment,
		Settled:            t.Settled,
		CancelReason:       t.CancelReason,
	}
}

func (d transferData) toTransfer() domain.Transfer {
	return domain.Transfer{
		ID:                 d.ID,
		Amount:             d.Amount,
		ExecutionCondition: d.ExecutionCondition,
		ExpiresAt:          time.Unix(0, d.ExpiresAt).UTC(),
		Direction:          domain.TransferDirection(d.Direction),
		State:              domain.TransferState(d.State),
		Fulfillment:        d.Fulfillment,
		Settled:            d.Settled,
		CancelReason:       d.CancelReason,
	}
}
