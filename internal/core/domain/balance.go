package domain

import (
	"context"
	"errors"
)

var (
	ErrBalanceExceeded = errors.New("balance maximum exceeded")
	ErrBalanceNegative = errors.New("balance cannot go negative")
)

// Balance is a bounded counter. Mutations go through Add/Subtract/Set, all of
// which fail rather than let the 0 <= Value <= Maximum invariant break.
type Balance struct {
	Key     string
	Value   uint64
	Maximum uint64
}

func (b *Balance) Add(amount uint64) error {
	if amount > b.Maximum-b.Value {
		return ErrBalanceExceeded
	}
	b.Value += amount
	return nil
}

func (b *Balance) Subtract(amount uint64) error {
	if amount > b.Value {
		return ErrBalanceNegative
	}
	b.Value -= amount
	return nil
}

func (b *Balance) Set(value uint64) error {
	if value > b.Maximum {
		return ErrBalanceExceeded
	}
	b.Value = value
	return nil
}

// BalanceRepository persists balances keyed by side ("incoming", "outgoing",
// "inflight").
type BalanceRepository interface {
	Get(ctx context.Context, key string) (*Balance, error)
	Upsert(ctx context.Context, balance Balance) error
	Close()
}
