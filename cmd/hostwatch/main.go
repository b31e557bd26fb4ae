// Command hostwatch samples host CPU, memory and disk usage on a fixed
// interval and forwards every sample to the configured sinks. It also
// serves the ingestion API that collects posted samples.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/reugn/hostwatch/alert"
	"github.com/reugn/hostwatch/extension"
	"github.com/reugn/hostwatch/ingest"
	"github.com/reugn/hostwatch/internal/config"
	"github.com/reugn/hostwatch/internal/logger"
	"github.com/reugn/hostwatch/internal/monitor"
	"github.com/reugn/hostwatch/internal/sysmonitor"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	console, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("cannot create logger: %w", err)
	}
	defer logger.Flush(console.Logger)

	// The event log reports its own write failures to the console only.
	eventLog := extension.NewEventLog(cfg.Log.File, extension.WithLogger(console.Logger))
	log := logger.Tee(console, eventLog).Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	loopDone := make(chan struct{})
	var finishOnce sync.Once
	finish := func() { finishOnce.Do(func() { close(loopDone) }) }
	defer finish()
	go func() {
		select {
		case <-ctx.Done():
			log.Info("Cancellation requested... Shutting down.")
		case <-loopDone:
		}
	}()

	sampler, err := sysmonitor.New(sysmonitor.WithLogger(log))
	if err != nil {
		log.Error("Cannot create sampler", zap.Error(err))
		return err
	}

	sinks, closeSinks, err := buildSinks(ctx, cfg, eventLog, log)
	if err != nil {
		log.Error("Cannot create sinks", zap.Error(err))
		return err
	}
	defer closeSinks()

	serverDone := make(chan struct{})
	if cfg.Ingest.Enabled {
		server := ingest.NewServer(ingest.NewBuffer(), newNotifier(cfg, log),
			ingest.WithThreshold(cfg.Alert.Threshold),
			ingest.WithNotifyTimeout(cfg.HTTP.Timeout),
			ingest.WithLogger(log))
		go func() {
			defer close(serverDone)
			if err := ingest.ListenAndServe(ctx, cfg.Listen, server.Handler(), log); err != nil {
				log.Error("Ingestion server failed", zap.Error(err))
			}
		}()
	} else {
		close(serverDone)
	}

	loop, err := monitor.New(sampler, cfg.Interval(), sinks,
		monitor.WithLogger(log),
		monitor.WithStopRecorder(eventLog))
	if err != nil {
		return err
	}

	log.Info("Monitoring started. Press Ctrl+C to stop.",
		zap.Duration("interval", cfg.Interval()),
		zap.String("endpoint", cfg.Endpoint),
		zap.Int("sinks", len(sinks)))
	runErr := loop.Run(ctx)

	finish()
	stop()
	<-serverDone
	return runErr
}

func newNotifier(cfg *config.Config, log *zap.Logger) alert.Notifier {
	if cfg.Alert.WebhookURL == "" {
		return alert.NewLogNotifier(log)
	}
	return alert.NewWebhookNotifier(cfg.Alert.WebhookURL, &http.Client{Timeout: cfg.HTTP.Timeout})
}
