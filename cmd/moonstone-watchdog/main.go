// moonstone-watchdog monitors the enforcement daemon over its IPC
// socket and performs the configured tamper response if it stops
// answering.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"moonstone/internal/agent"
)

func main() {
	configPath := flag.String("config", "", "Path to config.toml (default: XDG config dir)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger := logrus.WithField("component", "watchdog")

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Warn("loading config, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	// Give the daemon a moment to bind its socket after boot.
	time.Sleep(2 * time.Second)

	logger.Info("watchdog monitoring daemon")
	err = agent.HeartbeatLoop(ctx, logger, nil)
	if errors.Is(err, agent.ErrHeartbeatMissed) {
		if err := agent.RespondToTamper(cfg.Hardcore.OnTamper, logger); err != nil {
			logger.WithError(err).Error("tamper response failed")
		}
		os.Exit(1)
	}
	logger.Info("watchdog stopped")
}
