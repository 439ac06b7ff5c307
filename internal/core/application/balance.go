package application

import (
	"context"
	"sync"

	"github.com/paychan-labs/paychand/internal/core/domain"
)

// balance is a lock-guarded, persisted bounded counter. Every mutation is
// written through to the repository before the in-memory value moves, so a
// failed write leaves the counter untouched.
type balance struct {
	mu   sync.Mutex
	repo domain.BalanceRepository
	rec  domain.Balance
}

func newBalance(
	ctx context.Context, repo domain.BalanceRepository, key string, maximum uint64,
) (*balance, error) {
	rec := domain.Balance{Key: key, Maximum: maximum}
	if stored, err := repo.Get(ctx, key); err == nil {
		rec.Value = stored.Value
		if maximum == 0 {
			rec.Maximum = stored.Maximum
		}
	}
	if err := repo.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return &balance{repo: repo, rec: rec}, nil
}

func (b *balance) Get() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec.Value
}

func (b *balance) Maximum() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec.Maximum
}

func (b *balance) SetMaximum(ctx context.Context, maximum uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.rec
	next.Maximum = maximum
	return b.commit(ctx, next)
}

func (b *balance) Add(ctx context.Context, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.rec
	if err := next.Add(amount); err != nil {
		return err
	}
	return b.commit(ctx, next)
}

func (b *balance) Subtract(ctx context.Context, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.rec
	if err := next.Subtract(amount); err != nil {
		return err
	}
	return b.commit(ctx, next)
}

func (b *balance) Set(ctx context.Context, value uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.rec
	if err := next.Set(value); err != nil {
		return err
	}
	return b.commit(ctx, next)
}

func (b *balance) commit(ctx context.Context, next domain.Balance) error {
	if err := b.repo.Upsert(ctx, next); err != nil {
		return err
	}
	b.rec = next
	return nil
}
