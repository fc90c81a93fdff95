package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/jezel/internal/codec"
	"github.com/ternarybob/jezel/internal/common"
	"github.com/ternarybob/jezel/internal/queue"
	"github.com/ternarybob/jezel/internal/services/data"
	"github.com/ternarybob/jezel/internal/services/executor"
	"github.com/ternarybob/jezel/internal/services/scheduler"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitStoreError  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to configuration file (default: jezel.toml)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	version := common.LoadVersionFromFile()
	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return exitOK
	}

	config, err := common.LoadFromFiles(*configPath, "jezel.toml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitConfigError
	}

	logger := common.InitLogger(config)
	common.PrintBanner(version)
	logger.Info().
		Str("version", version).
		Str("server_type", config.Server.Type).
		Msg("Starting jezel")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.NewDB(logger, &config.Database)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		return exitStoreError
	}
	defer db.Close()

	table := sqlite.NewTable(db, logger, sqlite.TableConfig{
		Name:   config.Database.Table,
		IDKind: sqlite.IDUUID,
	})
	if err := table.InitSchema(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to initialize schema")
		return exitStoreError
	}

	store := data.NewObjectStore(table, codec.New(logger, codec.DefaultRegistry()), logger)
	dataSvc := data.NewService(store, logger, nil)

	system, err := dataSvc.Bootstrap(ctx, config)
	if err != nil {
		logger.Error().Err(err).Msg("Bootstrap failed")
		return exitStoreError
	}

	if config.Server.Type == common.ServerTypeScheduler {
		q := queue.New(logger, config.Scheduler.QueueSize)
		server := executor.NewServer(config, dataSvc, q, executor.NewActionRegistry(), logger)
		if err := server.Start(ctx, system.ID); err != nil {
			logger.Error().Err(err).Msg("Failed to start execution server")
			return exitStoreError
		}

		sched := scheduler.NewService(dataSvc, server, logger, server.ID(), config.Scheduler)
		common.SafeGoWithContext(ctx, logger, "scheduler", func() {
			sched.Run(ctx)
		})

		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received")
		// Stop with a fresh context so cleanup can still reach the store.
		server.Stop(context.Background())
	} else {
		logger.Info().Msg("Web server type: scheduling and execution loops disabled")
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received")
	}

	return exitOK
}
