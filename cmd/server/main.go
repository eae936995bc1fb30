package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiryu-dev/worldhost/internal/adapters/objectstore"
	"github.com/kiryu-dev/worldhost/internal/adapters/prober"
	"github.com/kiryu-dev/worldhost/internal/adapters/worlddir"
	"github.com/kiryu-dev/worldhost/internal/config"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/kiryu-dev/worldhost/internal/transport/ws"
	"github.com/kiryu-dev/worldhost/internal/usecase/account"
	"github.com/kiryu-dev/worldhost/internal/usecase/monitor"
	"github.com/kiryu-dev/worldhost/internal/usecase/session"
	"github.com/kiryu-dev/worldhost/internal/usecase/synchronizer"
	"github.com/kiryu-dev/worldhost/internal/usecase/world"
	"github.com/kiryu-dev/worldhost/pkg/broadcast"
	"github.com/pkg/errors"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceTimeout = 10 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	cfgPath := flag.String("config", "./config.yml", "path to config")
	flag.Parse()
	cfg, err := config.New(*cfgPath)
	if err != nil {
		logger.Fatal(err.Error())
	}
	store, err := objectstore.Open(cfg.DataDir, cfg.Store.CacheEntries, logger)
	if err != nil {
		logger.Fatal(err.Error())
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close object store: " + err.Error())
		}
	}()
	stream := broadcast.New[domain.BroadcastEvent](cfg.EventCapacity)
	defer stream.Close()
	var (
		sessions = session.New(stream, logger)
		accounts = account.New(store, sessions, logger)
		mon      = monitor.New(prober.New(), stream, cfg.Monitor, logger)
	)
	for _, user := range cfg.Users {
		err := accounts.AddUser(user.Name, user.Password)
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
		case err != nil:
			logger.Fatal(errors.WithMessagef(err, "bootstrap user '%s'", user.Name).Error())
		}
	}
	worldUseCase, err := world.New(store, store, synchronizer.New(logger), mon, worlddir.New(logger), stream,
		cfg.Store, logger)
	if err != nil {
		logger.Fatal(err.Error())
	}
	server := ws.New(cfg.Listen, cfg.PeerHeader, mon, sessions, accounts, worldUseCase, logger)

	supervisor := suture.New("worldhost", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("supervisor event", zap.String("event", e.String()))
		},
		Timeout: serviceTimeout,
	})
	supervisor.Add(mon)
	supervisor.Add(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	supDone := supervisor.ServeBackground(ctx)
	var supErr error
	errGroup := new(errgroup.Group)
	errGroup.Go(func() error {
		select {
		case s := <-sigChan:
			cancel()
			supErr = <-supDone
			return errors.Errorf("captured signal: %v", s)
		case supErr = <-supDone:
			return errors.WithMessage(supErr, "supervisor stopped")
		}
	})
	if err := errGroup.Wait(); err != nil {
		logger.Info("gracefully shutting down the server: " + err.Error())
	}
	if supErr != nil && !errors.Is(supErr, context.Canceled) {
		logger.Info("supervisor: " + supErr.Error())
	}
}
