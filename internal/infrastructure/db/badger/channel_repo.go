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

const channelDir = "channels"

type channelRepository struct {
	store *badgerhold.Store
}

func NewChannelRepository(baseDir string, logger badger.Logger) (domain.ChannelRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, channelDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel store: %s", err)
	}
	return &channelRepository{store}, nil
}

func (r *channelRepository) Get(
	ctx context.Context, direction domain.ChannelDirection,
) (*domain.Channel, error) {
	var data channelData
	err := r.store.Get(direction.String(), &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%s channel not found", direction)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	channel := data.toChannel()
	return &channel, nil
}

func (r *channelRepository) Upsert(ctx context.Context, channel domain.Channel) error {
	return r.store.Upsert(channel.Direction.String(), toChannelData(channel))
}

func (r *channelRepository) Close() {
	// nolint:all
	r.store.Close()
}

type channelData struct {
	Direction      int
	State          int
	FundingTxID    string
	OutputIndex    uint32
	Capacity       uint64
	ClaimAmount    uint64
	ClaimSignature string
	SettlementTx   string
}

func toChannelData(c domain.Channel) channelData {
	data := channelData{
		Direction:    int(c.Direction),
		State:        int(c.State),
		FundingTxID:  c.FundingTxID,
		OutputIndex:  c.OutputIndex,
		Capacity:     c.Capacity,
		SettlementTx: c.SettlementTx,
	}
	if c.BestClaim != nil {
		data.ClaimAmount = c.BestClaim.Amount
		data.ClaimSignature = c.BestClaim.Signature
	}
	return data
}

func (d channelData) toChannel() domain.Channel {
	channel := domain.Channel{
		Direction:    domain.ChannelDirection(d.Direction),
		State:        domain.ChannelState(d.State),
		FundingTxID:  d.FundingTxID,
		OutputIndex:  d.OutputIndex,
		Capacity:     d.Capacity,
		SettlementTx: d.SettlementTx,
	}
	if len(d.ClaimSignature) > 0 {
		channel.BestClaim = &domain.Claim{
			Amount:    d.ClaimAmount,
			Signature: d.ClaimSignature,
		}
	}
	return channel
}
