package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taskminder/internal/config"
	"taskminder/internal/logging"
	"taskminder/internal/notify"
	"taskminder/internal/repository"
	"taskminder/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", false)
		boot.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	notifier, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.SendTimeout, cfg.SendRatePerSec)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier")
	}

	reminderSvc := service.NewReminderService(taskRepo, userRepo, notifier, cfg.Lookback, cfg.DefaultTimezone, logger)
	reaperSvc := service.NewReaperService(userRepo, notifier, cfg.InactiveAfter, cfg.PurgeAfter, logger)
	digestSvc := service.NewDigestService(taskRepo, userRepo, notifier, cfg.DefaultTimezone, logger)

	scheduler := service.NewSchedulerService(time.Local, logger)

	reminderTick := func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), cfg.TickInterval)
		defer cancel()
		if err := reminderSvc.Tick(tickCtx, time.Now().UTC()); err != nil {
			logger.Error().Err(err).Msg("reminder tick aborted")
		}
	}
	if _, err := scheduler.ScheduleInterval(cfg.TickInterval, reminderTick); err != nil {
		logger.Fatal().Err(err).Msg("schedule reminder loop")
	}

	if _, err := scheduler.ScheduleInterval(24*time.Hour, func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := reaperSvc.Tick(tickCtx, time.Now().UTC()); err != nil {
			logger.Error().Err(err).Msg("inactivity tick aborted")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("schedule inactivity loop")
	}

	if _, err := scheduler.ScheduleDaily(cfg.DigestTime, func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := digestSvc.SendDigests(tickCtx, time.Now().UTC()); err != nil {
			logger.Error().Err(err).Msg("digest run aborted")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("schedule digest")
	}

	scheduler.Start()
	defer scheduler.Stop()

	// Catch up immediately instead of waiting out the first interval.
	reminderTick()

	logger.Info().
		Dur("tick", cfg.TickInterval).
		Dur("lookback", cfg.Lookback).
		Msg("taskminder scheduler started")

	<-ctx.Done()
	logger.Info().Msg("shutdown complete")
}
