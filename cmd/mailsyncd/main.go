package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/sync"
)

func main() {
	configPath := model.DefaultConfigPath()
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		logging.New("info").WithError(err).Fatal("loading configuration")
	}

	log := logging.New(cfg.LogLevel)

	if len(cfg.Tenants) == 0 {
		log.Warnf("no tenants configured in %s, nothing to do", configPath)
		return
	}

	s, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("opening store")
	}
	defer s.Close()

	engine := sync.NewEngine(s, mailbox.Dial, logging.Component(log, "engine"))
	runner := sync.NewRunner(engine, cfg.Tenants, logging.Component(log, "runner"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Start(ctx)
	log.WithField("tenants", len(cfg.Tenants)).Info("mailsyncd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	runner.Stop()
}
