package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/QingMing-Bot/clore-ops-bot/internal/bot"
	"github.com/QingMing-Bot/clore-ops-bot/internal/inventory"
	"github.com/QingMing-Bot/clore-ops-bot/internal/repository"
	"github.com/QingMing-Bot/clore-ops-bot/internal/server"
	"github.com/QingMing-Bot/clore-ops-bot/internal/service"
	"github.com/QingMing-Bot/clore-ops-bot/internal/ssh"
	"github.com/QingMing-Bot/clore-ops-bot/internal/telegram"
	"github.com/QingMing-Bot/clore-ops-bot/pkg/config"
	"github.com/QingMing-Bot/clore-ops-bot/pkg/logutil"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logutil.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 执行历史（可选）
	var (
		hRepo   repository.HistoryRepoIface
		hWriter *service.HistoryWriter
	)
	if cfg.HistoryEnabled {
		db, err := sql.Open("sqlite", cfg.DBPath())
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(1)
		hRepo = repository.NewHistoryRepo(db)
		if err := hRepo.EnsureSchema(); err != nil {
			return err
		}
		hWriter = service.NewHistoryWriter(hRepo, cfg.HistoryFlushInterval, cfg.HistoryBatchSize, log.Named("history"))
		defer hWriter.Close()
		retention, err := service.StartRetention(hRepo, cfg.HistoryRetentionDays, cfg.HistoryMaxRows, log.Named("retention"))
		if err != nil {
			return err
		}
		defer retention.Stop()
	}

	hostKey, err := ssh.HostKeyCallback(cfg.HostKeyPolicy, cfg.KnownHosts)
	if err != nil {
		return err
	}
	executor := ssh.NewExecutor(ssh.Options{
		ConnectTimeout:  cfg.SSHConnectTimeout,
		HostKeyCallback: hostKey,
	}, log.Named("ssh"))
	execSvc := service.NewExecService(executor, hWriter, service.ExecConfig{
		User:           cfg.SSHUser,
		KeyPath:        cfg.SSHKeyPath,
		MaxParallel:    cfg.MaxParallel,
		CommandTimeout: cfg.CommandTimeout,
	}, log.Named("exec"))
	inv := inventory.NewClient(cfg.InventoryURL, cfg.InventoryToken, log.Named("inventory"))

	tg, err := telegram.New(cfg.TelegramToken, log.Named("telegram"))
	if err != nil {
		return err
	}
	if len(cfg.AdminIDs) == 0 {
		log.Warn("no admin ids configured, every operator will be refused")
	}
	store := bot.NewStore()
	dispatcher := bot.NewDispatcher(store, inv, execSvc, tg, log.Named("dispatcher"))
	handler := bot.NewGate(cfg.AdminIDs, tg, log.Named("gate")).Wrap(dispatcher)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tg.Run(ctx, handler)
		stop()
		return nil
	})
	if cfg.HTTPAddr != "" {
		var history server.HistoryLister
		if hRepo != nil {
			history = hRepo
		}
		if cfg.HTTPToken == "" {
			log.Warn("http token not set, /history disabled")
		}
		router := server.NewRouter(history, cfg.HTTPToken, func() map[string]any {
			return map[string]any{"sessions": store.Len()}
		}, log.Named("http"))
		g.Go(func() error { return server.Run(ctx, cfg.HTTPAddr, router, log.Named("http")) })
	}

	log.Info("bot started", zap.Int("admins", len(cfg.AdminIDs)), zap.String("host_key_policy", cfg.HostKeyPolicy))
	err = g.Wait()
	log.Info("bot stopped")
	return err
}
