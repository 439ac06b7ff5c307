package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/paychan-labs/paychand/internal/core/domain"
)

const balanceDir = "balances"

type balanceRepository struct {
	store *badgerhold.Store
}

func NewBalanceRepository(baseDir string, logger badger.Logger) (domain.BalanceRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, balanceDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open balance store: %s", err)
	}
	return &balanceRepository{store}, nil
}

func (r *balanceRepository) Get(ctx context.Context, key string) (*domain.Balance, error) {
	var balance domain.Balance
	err := r.store.Get(key, &balance)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("balance %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &balance, nil
}

func (r *balanceRepository) Upsert(ctx context.Context, balance domain.Balance) error {
	return r.store.Upsert(balance.Key, balance)
}

func (r *balanceRepository) Close() {
	// nolint:all
	r.store.Close()
}
