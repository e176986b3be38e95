// The dispatcher is the judge node binary: it leases pending
// submissions, judges them in the sandbox, seals verdicts, serves the
// read API, and mines the block ledger on the epoch cadence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"chainjudge/internal/api"
	"chainjudge/internal/chain"
	"chainjudge/internal/common/cache"
	"chainjudge/internal/common/db"
	"chainjudge/internal/common/mq"
	"chainjudge/internal/common/storage"
	"chainjudge/internal/dispatch"
	"chainjudge/internal/judge"
	"chainjudge/internal/packcache"
	"chainjudge/internal/sandbox"
	"chainjudge/internal/sandbox/boxpool"
	"chainjudge/internal/sandbox/engine"
	"chainjudge/internal/scoring"
	"chainjudge/internal/store"
	"chainjudge/pkg/utils/logger"
)

// Exit codes form the operational contract with process supervisors.
const (
	exitOK               = 0
	exitConfigError      = 1
	exitStoreUnreachable = 2
	exitSandboxFailed    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/dispatcher.yaml", "path to config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}
	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return exitConfigError
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewMySQLWithConfig(&cfg.MySQL)
	if err != nil {
		logger.Error(ctx, "mysql connect failed", zap.Error(err))
		return exitStoreUnreachable
	}
	scorer := scoring.New(cfg.Scoring.Alpha, cfg.Scoring.Minimum)
	st := store.NewMySQLStore(database, scorer)
	defer st.Close()

	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		logger.Error(ctx, "redis connect failed", zap.Error(err))
		return exitStoreUnreachable
	}
	defer redisCache.Close()

	var queue mq.MessageQueue
	if len(cfg.Kafka.Brokers) > 0 {
		kq, err := mq.NewKafkaQueue(cfg.Kafka)
		if err != nil {
			logger.Warn(ctx, "kafka init failed, running without queue", zap.Error(err))
		} else {
			queue = kq
			defer kq.Close()
		}
	}

	var objectStore storage.ObjectStorage
	if cfg.MinIO.Endpoint != "" {
		objectStore, err = storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			logger.Error(ctx, "minio init failed", zap.Error(err))
			return exitStoreUnreachable
		}
	}
	packs := packcache.New(cfg.Packs, objectStore, redisCache)

	pool, err := boxpool.NewPool(cfg.Sandbox.BoxRoot, cfg.Sandbox.Boxes)
	if err != nil {
		logger.Error(ctx, "box pool init failed", zap.Error(err))
		return exitSandboxFailed
	}
	profiles := engine.StaticProfiles{
		"run":     {SeccompProfile: "run.json", DisableNetwork: true},
		"compile": {SeccompProfile: "compile.json", DisableNetwork: true},
	}
	eng, err := engine.NewEngine(cfg.Sandbox.Engine, profiles)
	if err != nil {
		logger.Error(ctx, "sandbox engine init failed", zap.Error(err))
		return exitSandboxFailed
	}
	exec := sandbox.NewExecutor(pool, eng)

	var producer mq.Producer
	if queue != nil {
		producer = queue
	}
	judgeEngine := judge.NewEngine(cfg.Judge, exec, st, packs, producer)
	dispatcher := dispatch.New(cfg.Dispatch, st, judgeEngine, exec, queue)
	miner := chain.NewMiner(st, redisCache, chain.MockAnchorProvider{BaseHeight: cfg.Chain.AnchorBaseHeight},
		cfg.Epoch(), cfg.Dispatch.NodeID)
	server := api.NewServer(cfg.API, st)

	logger.Info(ctx, "dispatcher starting",
		zap.Int("workers", cfg.Dispatch.Workers),
		zap.Int("boxes", cfg.Sandbox.Boxes),
		zap.Int64("epoch_ms", cfg.Chain.EpochMs),
		zap.String("node_id", cfg.Dispatch.NodeID))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		miner.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			logger.Error(ctx, "http server failed", zap.Error(err))
			stop()
		}
	}()
	wg.Wait()

	logger.Info(ctx, "dispatcher stopped")
	return exitOK
}
