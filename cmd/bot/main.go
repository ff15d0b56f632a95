package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"application_stats_bot/internal/app"
	"application_stats_bot/internal/domain/report"
	"application_stats_bot/internal/domain/store"
	"application_stats_bot/internal/infra/config"
	idb "application_stats_bot/internal/infra/database"
	"application_stats_bot/internal/infra/discord"
	"application_stats_bot/internal/infra/firestoredb"
	"application_stats_bot/internal/infra/heartbeat"
	"application_stats_bot/internal/infra/logger"
	"application_stats_bot/internal/infra/scheduler"
	"application_stats_bot/internal/infra/telegram"
	"application_stats_bot/internal/infra/telemetry"

	"github.com/sirupsen/logrus"
)

const (
	startupProbeTimeout = 30 * time.Second
	maxTickTimeout      = 2 * time.Minute
	shutdownTimeout     = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("Could not load application configuration")
	}
	logger.Init(cfg)
	mainLogger := logger.For("main")
	discord.RouteLogs(logger.For("discordgo"))

	mainLogger.WithFields(logrus.Fields{
		"environment":  cfg.Environment,
		"store_driver": cfg.StoreDriver,
		"interval":     cfg.ReportInterval.String(),
		"telegram":     cfg.TelegramEnabled(),
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docStore, err := openStore(ctx, cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not open document store")
	}
	if err := probeStore(ctx, docStore); err != nil {
		mainLogger.WithError(err).Fatal("Document store probe failed")
	}
	mainLogger.Info("Document store reachable")

	bot, err := discord.NewBot(cfg.DiscordToken, logger.For("discord"))
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Discord bot")
	}

	targets := []app.ReportTarget{{
		Name:      "discord",
		Messenger: bot,
		GuildID:   cfg.DiscordGuildID,
		ChannelID: cfg.DiscordChannelID,
	}}

	var mirror *telegram.Mirror
	if cfg.TelegramEnabled() {
		mirror, err = telegram.NewMirror(cfg.TelegramToken, logger.For("telegram"))
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		targets = append(targets, app.ReportTarget{
			Name:      "telegram",
			Messenger: mirror,
			ChannelID: strconv.FormatInt(cfg.TelegramChatID, 10),
		})
	}

	var beat app.Heartbeat
	if cfg.HeartbeatFile != "" {
		beat = heartbeat.NewFile(cfg.HeartbeatFile)
	}

	reporter := app.NewStatsReporter(
		docStore,
		targets,
		report.Window{OpenAt: cfg.ApplicationsOpenAt, CloseAt: cfg.ApplicationsCloseAt},
		cfg.ReportInterval,
		beat,
		logger.For("reporter"),
	)
	reportScheduler := scheduler.NewReportScheduler(reporter.Tick, cfg.ReportInterval, tickTimeout(cfg.ReportInterval), logger.For("scheduler"))
	presence := app.NewPresencePublisher(bot, cfg.PresenceText, logger.For("presence"))
	dispatcher := app.NewDispatcher(app.DispatcherConfig{
		Prefix:     cfg.CommandPrefix,
		Store:      docStore,
		EmailField: cfg.ApplicationEmailField,
		Latency:    bot.Latency,
	}, logger.For("commands"))

	supervisor := app.NewSupervisor(bot, app.SupervisorConfig{
		OnReady: func(ctx context.Context) {
			presence.Publish(ctx)
			reportScheduler.Start(ctx)
		},
	}, logger.For("supervisor"))

	bot.SetHandlers(discord.Handlers{
		OnReady:      supervisor.HandleReady,
		OnDisconnect: supervisor.HandleError,
		OnCommand:    dispatcher.Dispatch,
	})

	var metricsServer *telemetry.Server
	if cfg.MetricsAddr != "" {
		metricsServer = telemetry.NewServer(cfg.MetricsAddr, supervisor.Ready, logger.For("telemetry"))
		metricsServer.Start()
	}

	if mirror != nil {
		mirror.RegisterCommands(cfg.CommandPrefix, dispatcher.Dispatch)
		go mirror.Start()
	}

	if err := supervisor.Start(ctx); err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to Discord")
	}
	mainLogger.Info("Application setup complete. Waiting for gateway ready...")

	exitCode := 0
	select {
	case <-ctx.Done():
		mainLogger.Info("Shutting down application...")
	case <-supervisor.Failed():
		mainLogger.WithError(app.ErrReconnectAttemptsExhausted).Error("Giving up on the Discord connection")
		exitCode = 1
	}

	reportScheduler.Stop()
	supervisor.Stop()
	if mirror != nil {
		mirror.Stop()
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			mainLogger.WithError(err).Warn("Metrics server shutdown failed")
		}
		cancel()
	}
	if err := docStore.Close(); err != nil {
		mainLogger.WithError(err).Warn("Error closing document store")
	}

	mainLogger.WithField("exit_code", exitCode).Info("Application stopped")
	os.Exit(exitCode)
}

func openStore(ctx context.Context, cfg *config.AppConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s := idb.NewPostgresDocumentStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.StoreDriverFirestore:
		return firestoredb.NewStore(ctx, firestoredb.Options{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			APIKey:          cfg.FirebaseAPIKey,
		})
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// probeStore reads both report counts once so bad credentials fail the process at startup.
func probeStore(ctx context.Context, s store.Counter) error {
	ctx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()
	for _, collection := range []string{store.CollectionApplications, store.CollectionApplicationDrafts} {
		if _, err := s.Count(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

func tickTimeout(interval time.Duration) time.Duration {
	if interval < maxTickTimeout {
		return interval
	}
	return maxTickTimeout
}
