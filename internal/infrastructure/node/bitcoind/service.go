package bitcoind

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/paychan-labs/paychand/internal/core/ports"
)

type Config struct {
	Host     string
	User     string
	Password string
	UseTLS   bool
	Net      *chaincfg.Params
}

func (c Config) validate() error {
	if len(c.Host) <= 0 {
		return fmt.Errorf("missing bitcoind host")
	}
	if c.Net == nil {
		return fmt.Errorf("missing network params")
	}
	return nil
}

type service struct {
	client *rpcclient.Client
	net    *chaincfg.Params
}

func NewService(cfg Config) (ports.NodeService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   !cfg.UseTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bitcoind client: %s", err)
	}
	return &service{client, cfg.Net}, nil
}

func (s *service) Broadcast(_ context.Context, tx *wire.MsgTx) (string, error) {
	hash, err := s.client.SendRawTransaction(tx, false)
	if err != nil {
		return "", classify(err)
	}
	return hash.String(), nil
}

func (s *service) GetTransaction(_ context.Context, txid string) (*ports.NodeTransaction, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %s: %s", txid, err)
	}
	res, err := s.client.GetRawTransactionVerbose(hash)
	if err != nil {
		return nil, classifyLookup(err)
	}

	outputs := make([]ports.TxOutput, 0, len(res.Vout))
	for _, vout := range res.Vout {
		value, err := btcutil.NewAmount(vout.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid output value on %s: %s", txid, err)
		}
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			return nil, fmt.Errorf("invalid output script on %s: %s", txid, err)
		}
		outputs = append(outputs, ports.TxOutput{
			Value:  uint64(value),
			Script: script,
		})
	}

	return &ports.NodeTransaction{
		Outputs:       outputs,
		Confirmations: int64(res.Confirmations),
	}, nil
}

func (s *service) GetChainTime(_ context.Context) (*ports.ChainTime, error) {
	info, err := s.client.GetBlockChainInfo()
	if err != nil {
		return nil, classifyLookup(err)
	}
	return &ports.ChainTime{
		Height:     int64(info.Blocks),
		MedianTime: info.MedianTime,
	}, nil
}

func (s *service) FundAddress(_ context.Context, address string, amount uint64) (string, error) {
	addr, err := btcutil.DecodeAddress(address, s.net)
	if err != nil {
		return "", fmt.Errorf("invalid address %s: %s", address, err)
	}
	hash, err := s.client.SendToAddress(addr, btcutil.Amount(amount))
	if err != nil {
		return "", classify(err)
	}
	return hash.String(), nil
}

func (s *service) Close() {
	s.client.Shutdown()
}

// classify splits submission failures into the retryable and the fatal. An
// RPC error means the node understood us and said no; everything else is
// treated as the node being unreachable.
func classify(err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %s", ports.ErrTxRejected, rpcErr.Message)
	}
	return fmt.Errorf("%w: %s", ports.ErrNodeUnavailable, err)
}

// classifyLookup marks transport failures as retryable; an RPC-level answer
// (unknown transaction, bad params) is surfaced as-is.
func classifyLookup(err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return err
	}
	return fmt.Errorf("%w: %s", ports.ErrNodeUnavailable, err)
}
