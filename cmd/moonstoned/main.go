// moonstoned is the on-device enforcement daemon: it runs the app-kill
// loop, reconciles the packet filter, and answers the watchdog over
// the IPC socket.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"moonstone/internal/agent"
)

func main() {
	configPath := flag.String("config", "", "Path to config.toml (default: XDG config dir)")
	setupPF := flag.Bool("setup", false, "Register the pf anchor in pf.conf and exit")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger := logrus.WithField("component", "moonstoned")

	if *setupPF {
		if err := agent.SetupAnchor(logger); err != nil {
			logger.WithError(err).Fatal("registering pf anchor")
		}
		return
	}

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Warn("loading config, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	network := agent.NewNetworkBlocker(logrus.WithField("component", "network"))
	// A previous run may have left rules loaded.
	network.FlushStale()
	enforcer := agent.NewEnforcer(cfg.Policy(), network, logrus.WithField("component", "enforcer"))

	ipc, err := agent.NewIPCServer(logrus.WithField("component", "ipc"))
	if err != nil {
		logger.WithError(err).Fatal("starting ipc server")
	}
	go ipc.Serve(ctx, func(op byte) {
		switch op {
		case agent.OpShutdown:
			logger.Info("shutdown requested over ipc")
			cancel()
		case agent.OpStatus:
			logger.WithField("blocked", enforcer.Blocked()).Info("status requested")
		case agent.OpEmergencyDisable:
			enforcer.Suspend()
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	if !agent.HasAccessibilityPermission() {
		logger.Warn("accessibility permission missing, frontmost app queries will fail")
	}

	// A daemon restart must not be a loophole.
	enforcer.SweepRunning()

	logger.Info("moonstone daemon running")
	enforcer.Run(ctx)

	ipc.Close()
	logger.Info("moonstone daemon stopped")
}
