package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paychan-labs/paychand/internal/core/domain"
	"github.com/paychan-labs/paychand/internal/core/ports"
	"github.com/paychan-labs/paychand/internal/infrastructure/db"
)

func getRepoManager(t *testing.T) ports.RepoManager {
	t.Helper()
	svc, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{"", nil},
	})
	require.NoError(t, err)
	return svc
}

func TestRepoManager(t *testing.T) {
	svc := getRepoManager(t)
	defer svc.Close()

	testBalanceRepo(t, svc.Balances())
	testTransferRepo(t, svc.Transfers())
	testChannelRepo(t, svc.Channels())
}

func testBalanceRepo(t *testing.T, repo domain.BalanceRepository) {
	t.Run("balance repo", func(t *testing.T) {
		ctx := context.Background()

		_, err := repo.Get(ctx, "incoming")
		require.Error(t, err)

		balance := domain.Balance{Key: "incoming", Value: 300, Maximum: 1000}
		err = repo.Upsert(ctx, balance)
		require.NoError(t, err)

		got, err := repo.Get(ctx, "incoming")
		require.NoError(t, err)
		require.Equal(t, balance, *got)

		balance.Value = 700
		err = repo.Upsert(ctx, balance)
		require.NoError(t, err)

		got, err = repo.Get(ctx, "incoming")
		require.NoError(t, err)
		require.Equal(t, uint64(700), got.Value)
	})
}

func testTransferRepo(t *testing.T, repo domain.TransferRepository) {
	t.Run("transfer repo", func(t *testing.T) {
		ctx := context.Background()

		transfer := domain.Transfer{
			ID:                 "t1",
			Amount:             500,
			ExecutionCondition: "47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU",
			ExpiresAt:          time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond),
			Direction:          domain.TransferIncoming,
			State:              domain.TransferProposed,
		}
		err := repo.Add(ctx, transfer)
		require.NoError(t, err)

		// id reuse is rejected at the storage level
		err = repo.Add(ctx, transfer)
		require.Error(t, err)

		got, err := repo.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, transfer.Amount, got.Amount)
		require.Equal(t, transfer.ExecutionCondition, got.ExecutionCondition)
		require.True(t, transfer.ExpiresAt.Equal(got.ExpiresAt))
		require.Equal(t, domain.TransferProposed, got.State)

		transfer.State = domain.TransferExecuted
		transfer.Fulfillment = "cHJlaW1hZ2U"
		err = repo.Update(ctx, transfer)
		require.NoError(t, err)

		got, err = repo.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, domain.TransferExecuted, got.State)
		require.Equal(t, "cHJlaW1hZ2U", got.Fulfillment)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)

		_, err = repo.Get(ctx, "missing")
		require.Error(t, err)
	})
}

func testChannelRepo(t *testing.T, repo domain.ChannelRepository) {
	t.Run("channel repo", func(t *testing.T) {
		ctx := context.Background()

		_, err := repo.Get(ctx, domain.ChannelOutgoing)
		require.Error(t, err)

		channel := domain.Channel{
			Direction:   domain.ChannelOutgoing,
			State:       domain.ChannelOpen,
			FundingTxID: "ff00000000000000000000000000000000000000000000000000000000000000",
			OutputIndex: 1,
			Capacity:    100_000,
		}
		err = repo.Upsert(ctx, channel)
		require.NoError(t, err)

		got, err := repo.Get(ctx, domain.ChannelOutgoing)
		require.NoError(t, err)
		require.Equal(t, channel, *got)
		require.Nil(t, got.BestClaim)

		channel.BestClaim = &domain.Claim{Amount: 30_000, Signature: "3044aabb01"}
		err = repo.Upsert(ctx, channel)
		require.NoError(t, err)

		got, err = repo.Get(ctx, domain.ChannelOutgoing)
		require.NoError(t, err)
		require.NotNil(t, got.BestClaim)
		require.Equal(t, uint64(30_000), got.BestClaim.Amount)
	})
}
