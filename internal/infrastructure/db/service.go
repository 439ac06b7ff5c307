package db

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/paychan-labs/paychand/internal/core/domain"
	"github.com/paychan-labs/paychand/internal/core/ports"
	badgerdb "github.com/paychan-labs/paychand/internal/infrastructure/db/badger"
)

var (
	allowedTypes = strings.Join([]string{"badger"}, ",")
)

type ServiceConfig struct {
	DbType   string
	DbConfig []any
}

type service struct {
	balanceRepo  domain.BalanceRepository
	transferRepo domain.TransferRepository
	channelRepo  domain.ChannelRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	var (
		balanceRepo  domain.BalanceRepository
		transferRepo domain.TransferRepository
		channelRepo  domain.ChannelRepository
		err          error
	)
	switch config.DbType {
	case "badger":
		if len(config.DbConfig) != 2 {
			return nil, fmt.Errorf("badger db config must have 2 elements, got %d", len(config.DbConfig))
		}
		baseDir, ok := config.DbConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}
		var logger badger.Logger
		if config.DbConfig[1] != nil {
			logger, ok = config.DbConfig[1].(badger.Logger)
			if !ok {
				return nil, fmt.Errorf("invalid logger")
			}
		}
		balanceRepo, err = badgerdb.NewBalanceRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open balance db: %s", err)
		}
		transferRepo, err = badgerdb.NewTransferRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open transfer db: %s", err)
		}
		channelRepo, err = badgerdb.NewChannelRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open channel db: %s", err)
		}
	default:
		return nil, fmt.Errorf("unsupported db type %s, please select one of %s", config.DbType, allowedTypes)
	}

	return &service{
		balanceRepo:  balanceRepo,
		transferRepo: transferRepo,
		channelRepo:  channelRepo,
	}, nil
}

func (s *service) Balances() domain.BalanceRepository {
	return s.balanceRepo
}

func (s *service) Transfers() domain.TransferRepository {
	return s.transferRepo
}

func (s *service) Channels() domain.ChannelRepository {
	return s.channelRepo
}

func (s *service) Close() {
	s.balanceRepo.Close()
	s.transferRepo.Close()
	s.channelRepo.Close()
}
