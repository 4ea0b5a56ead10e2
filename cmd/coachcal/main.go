package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"coachcal/internal/calendar"
	"coachcal/internal/config"
	"coachcal/internal/dispatch"
	"coachcal/internal/ics"
	appLog "coachcal/internal/log"
	"coachcal/internal/storage"
	"coachcal/internal/web"
)

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	reindex    bool
}

func main() {
	appLog.Info("coachcal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.SetJSON(conf.LogFormat == "json")

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"storage", conf.Storage.Driver,
		"reminders_cron", conf.Reminders.Cron,
		"refresh_cron", conf.RefreshCron,
		"subscription_count", len(conf.Subscriptions),
		"metrics", conf.MetricsEnabled,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("coachcal exited with error", err)
		os.Exit(1)
	}
	appLog.Info("coachcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		return err
	}

	backend, err := storage.Open(ctx, conf.Storage)
	if err != nil {
		return err
	}
	engine := calendar.New(backend, calendar.WithLocation(loc))
	defer func() {
		if err := engine.Close(); err != nil {
			appLog.Error("failed to close storage", err)
		}
	}()
	if err := engine.Initialize(ctx); err != nil {
		return err
	}

	if flags.reindex {
		changed, err := engine.RebuildIndex(ctx)
		if err != nil {
			return err
		}
		appLog.Info("user index rebuilt", "changed", changed)
	}

	var syncer *ics.Syncer
	if len(conf.Subscriptions) > 0 {
		syncer = ics.NewSyncer(ics.NewFetcher(conf.CacheDir, nil), engine, loc, conf.Subscriptions)
	}

	sink, closeSink, err := openSink(ctx, conf.Reminders)
	if err != nil {
		return err
	}
	defer closeSink()
	poller := dispatch.NewPoller(engine, sink)

	if flags.once {
		if syncer != nil {
			if err := syncer.Refresh(ctx); err != nil {
				appLog.Error("subscription refresh failed", err)
			}
		}
		_, err := poller.RunOnce(ctx)
		return err
	}

	// A run still in progress makes the next tick of the same job a no-op.
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	if err := poller.Schedule(c, conf.Reminders.Cron); err != nil {
		return err
	}
	if syncer != nil {
		// Initial import so subscribed events are visible right away.
		if err := syncer.Refresh(ctx); err != nil {
			appLog.Error("initial subscription refresh failed", err)
		}
		if _, err := c.AddFunc(conf.RefreshCron, func() {
			if err := syncer.Refresh(ctx); err != nil {
				appLog.Error("scheduled subscription refresh failed", err)
			}
		}); err != nil {
			return err
		}
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	return web.NewServer(conf, engine, syncer).Run(ctx)
}

// openSink publishes reminders on redis when a URL is configured and only
// logs them otherwise.
func openSink(ctx context.Context, rc config.RemindersConfig) (dispatch.Sink, func(), error) {
	if rc.RedisURL == "" {
		appLog.Info("reminder dispatch uses log sink")
		return dispatch.LogSink{}, func() {}, nil
	}
	s, err := dispatch.OpenRedisSink(ctx, rc.RedisURL, rc.Channel)
	if err != nil {
		return nil, nil, errors.Join(errors.New("reminder sink"), err)
	}
	appLog.Info("reminder dispatch publishes on redis", "channel", rc.Channel)
	return s, func() {
		if err := s.Close(); err != nil {
			appLog.Error("failed to close reminder sink", err)
		}
	}, nil
}

// cronLogger routes robfig/cron messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/coachcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh subscriptions and dispatch due reminders once, then exit")
	flag.BoolVar(&cfg.reindex, "reindex", false, "Rebuild the per-user index from the event table at startup")

	flag.Parse()

	return cfg
}
