package ports

import "github.com/paychan-labs/paychand/internal/core/domain"

type RepoManager interface {
	Balances() domain.BalanceRepository
	Transfers() domain.TransferRepository
	Channels() domain.ChannelRepository
	Close()
}
