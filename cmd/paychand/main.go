package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/paychan-labs/paychand/internal/config"
	"github.com/paychan-labs/paychand/internal/core/application"
	"github.com/paychan-labs/paychand/internal/infrastructure/db"
	"github.com/paychan-labs/paychand/internal/infrastructure/node/bitcoind"
	scheduler "github.com/paychan-labs/paychand/internal/infrastructure/scheduler/gocron"
	"github.com/paychan-labs/paychand/internal/interface/rpc"
	"github.com/paychan-labs/paychand/pkg/paychan"
	"github.com/paychan-labs/paychand/utils"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))
	log.Info("starting paychand...")

	net, err := cfg.NetParams()
	if err != nil {
		log.WithError(err).Fatal("invalid network")
	}

	unlocker := cfg.UnlockerService()
	if unlocker == nil {
		log.Fatal("no unlocker configured, cannot load wallet secret")
	}
	ctx := context.Background()
	secret, err := unlocker.GetSecret(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to retrieve wallet secret")
	}
	privateKeyHex, err := utils.SecretToPrivateKeyHex(secret)
	if err != nil {
		log.WithError(err).Fatal("invalid wallet secret")
	}

	localKey, err := paychan.NewKeyFromSecret(privateKeyHex, net)
	if err != nil {
		log.WithError(err).Fatal("failed to load signing key")
	}
	peerKey, err := paychan.NewKeyFromPublicKey(cfg.PeerPublicKey, net)
	if err != nil {
		log.WithError(err).Fatal("failed to load peer public key")
	}
	log.WithField("pubkey", localKey.PubKeyHex()).Info("wallet unlocked")

	nodeSvc, err := bitcoind.NewService(bitcoind.Config{
		Host:     cfg.BitcoindHost,
		User:     cfg.BitcoindUser,
		Password: cfg.BitcoindPassword,
		UseTLS:   cfg.BitcoindTLS,
		Net:      net,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to bitcoind")
	}

	dbSvc, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{cfg.Datadir, log.New()},
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open db")
	}

	schedulerSvc := scheduler.NewScheduler()
	peerClient := rpc.NewClient(cfg.PeerRPCURL, cfg.AuthToken)

	appSvc, err := application.NewService(application.ServiceOpts{
		LocalKey:      localKey,
		PeerKey:       peerKey,
		Timeout:       cfg.Timeout,
		ChannelAmount: cfg.ChannelAmount,
		Fee:           cfg.TxFee,
		MaxInFlight:   cfg.MaxInFlight,
		Net:           net,
		IncomingTxID:  cfg.IncomingTxID,
	}, nodeSvc, dbSvc, schedulerSvc, peerClient)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize service")
	}

	if err := appSvc.Connect(ctx); err != nil {
		log.WithError(err).Fatal("failed to open channels")
	}

	srv := rpc.NewServer(cfg.RPCPort, cfg.AuthToken, appSvc)
	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal("rpc server failed")
		}
	}()
	log.WithField("port", cfg.RPCPort).Info("rpc server listening")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("rpc server shutdown failed")
	}
	if err := appSvc.Disconnect(shutdownCtx); err != nil {
		log.WithError(err).Warn("failed to settle incoming channel")
	}
	appSvc.Stop()
	log.Exit(0)
}
