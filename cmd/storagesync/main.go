package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vbonduro/storagesync/internal/bus"
	"github.com/vbonduro/storagesync/internal/cache"
	"github.com/vbonduro/storagesync/internal/config"
	"github.com/vbonduro/storagesync/internal/db"
	"github.com/vbonduro/storagesync/internal/logging"
	"github.com/vbonduro/storagesync/internal/loop"
	"github.com/vbonduro/storagesync/internal/photostore/local"
	"github.com/vbonduro/storagesync/internal/push"
	"github.com/vbonduro/storagesync/internal/service"
	"github.com/vbonduro/storagesync/internal/store"
	"github.com/vbonduro/storagesync/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	photoStg, err := local.NewLocalPhotoStore(cfg.PhotoPath)
	if err != nil {
		logger.Error("failed to initialize photo store", "error", err)
		return
	}

	uiLoop := loop.New(logger)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go uiLoop.Run(loopCtx)
	defer func() {
		stopLoop()
		<-uiLoop.Done()
	}()

	events := bus.New(uiLoop, logger)
	itemCache := cache.New(cache.Options{TTL: cfg.CacheTTL, Limit: cfg.CacheLimit}, logger)

	// origin tags this instance's push notifications so it can skip its own echoes.
	origin := ulid.Make().String()
	var notifier push.Notifier = push.NopNotifier{}
	var rdb *redis.Client
	if cfg.PushEnabled() {
		rdb, err = connectRedis(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to connect redis", "addr", cfg.RedisAddr, "error", err)
			return
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("failed to close redis", "error", err)
			}
		}()
		notifier = push.NewRedisNotifier(rdb, cfg.PushChannel, origin)
		logger.Info("push notifications enabled", "channel", cfg.PushChannel, "origin", origin)
	}

	svc := service.NewInventoryService(
		store.NewBoxStore(database),
		store.NewItemStore(database),
		store.NewPhotoStore(database),
		photoStg,
		itemCache,
		events,
		notifier,
		service.Options{Timeout: cfg.RemoteTimeout, MaxPhotoDimension: cfg.PhotoMaxDimension},
		logger,
	)

	listenCtx, stopListener := context.WithCancel(context.Background())
	listenerDone := make(chan struct{})
	if rdb != nil {
		go runListener(listenCtx, push.NewRedisListener(rdb, cfg.PushChannel, origin, logger), svc, logger, listenerDone)
	} else {
		close(listenerDone)
	}

	server := web.NewServer(svc, events, uiLoop, web.Options{SearchDebounce: cfg.SearchDebounce}, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(cfg.ListenAddr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	stopListener()
	<-listenerDone
	logger.Info("server exited")
}

func connectRedis(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", addr, err)
	}
	return client, nil
}

// runListener feeds push notifications from other instances into the service,
// resubscribing after transient failures until ctx is cancelled.
func runListener(ctx context.Context, listener *push.RedisListener, svc *service.InventoryService, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		err := listener.Run(ctx, func(p push.Payload) {
			svc.HandleRemoteNotification(p)
		})
		if ctx.Err() != nil {
			return
		}
		logger.Warn("push listener stopped, retrying", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
