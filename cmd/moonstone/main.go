// moonstone is the user-facing CLI for the focus daemon.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"moonstone/internal/agent"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "moonstone",
		Short:         "Hardcore macOS focus blocker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default: XDG config dir)")

	root.AddCommand(
		statusCmd(),
		emergencyDisableCmd(),
		configCmd(),
		isBlockedCmd(),
		timeLeftCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() agent.Config {
	cfg, err := agent.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (using defaults)\n", err)
	}
	return cfg
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current status",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("=== Moonstone Status ===")
			fmt.Println()

			if agent.DaemonRunning() {
				fmt.Println("Daemon:    RUNNING")
			} else {
				fmt.Println("Daemon:    STOPPED")
			}

			cfg := loadConfig()
			schedule := cfg.Policy().Schedule
			if schedule.Active() {
				fmt.Println("Blocking:  ACTIVE")
				if secs, ok := schedule.SecondsUntilUnblock(time.Now()); ok {
					fmt.Printf("Time left: %dh %dm\n", secs/3600, (secs%3600)/60)
				}
			} else {
				fmt.Println("Blocking:  INACTIVE")
			}

			fmt.Println()
			fmt.Printf("Allowed apps: %d\n", len(cfg.Apps.Allowed))
			fmt.Printf("Allowed sites: %d\n", len(cfg.Websites.Allowed))
			fmt.Printf("Tamper response: %s\n", cfg.Hardcore.OnTamper)
		},
	}
}

func emergencyDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emergency-disable",
		Short: "Emergency disable (requires typing challenge)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !agent.DaemonRunning() {
				fmt.Println("Daemon is not running. Nothing to disable.")
				return nil
			}

			cfg := loadConfig()
			duration := time.Duration(cfg.Hardcore.EmergencyDisableChallenge) * time.Second
			fmt.Println("This will disable Moonstone until the next block period.")
			fmt.Printf("You must complete a %d-second typing challenge.\n", int(duration.Seconds()))

			if !agent.RunChallenge(os.Stdin, os.Stdout, duration) {
				fmt.Println("\nChallenge failed. Moonstone remains active.")
				return nil
			}

			if err := agent.SendOp(agent.OpEmergencyDisable); err != nil {
				return fmt.Errorf("communicating with daemon: %w", err)
			}
			fmt.Println("Moonstone has been disabled.")
			fmt.Println("Blocking will resume at the start of the next block period.")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			path := configPath
			if path == "" {
				path = agent.ConfigPath()
			}

			fmt.Println("=== Moonstone Configuration ===")
			fmt.Printf("\nConfig file: %s\n", path)

			fmt.Println("\n[Schedule]")
			for i, block := range cfg.Schedule.Blocks {
				fmt.Printf("  Block %d: %s - %s\n", i+1, block.Start, block.End)
			}

			fmt.Printf("\n[Apps] (mode: %s)\n", cfg.Apps.Mode)
			for _, app := range cfg.Apps.Allowed {
				fmt.Printf("  - %s\n", app)
			}

			fmt.Printf("\n[Websites] (mode: %s)\n", cfg.Websites.Mode)
			for _, site := range cfg.Websites.Allowed {
				fmt.Printf("  - %s\n", site)
			}

			fmt.Println("\n[Hardcore]")
			fmt.Printf("  on_tamper: %s\n", cfg.Hardcore.OnTamper)
			fmt.Printf("  emergency_challenge: %ds\n", cfg.Hardcore.EmergencyDisableChallenge)
			fmt.Printf("  lock_config: %t\n", cfg.Hardcore.LockConfig)
			fmt.Printf("  kill_behavior: %s\n", cfg.Hardcore.KillBehavior)
		},
	}
}

func isBlockedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "is-blocked",
		Short: "Check if currently in a block period (exit 0 when blocked)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			if cfg.Policy().Schedule.Active() {
				fmt.Println("BLOCKED")
				os.Exit(0)
			}
			fmt.Println("ALLOWED")
			os.Exit(1)
		},
	}
}

func timeLeftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "time-left",
		Short: "Show time until next allowed period",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			schedule := cfg.Policy().Schedule
			secs, ok := schedule.SecondsUntilUnblock(time.Now())
			if !ok {
				fmt.Println("Not currently blocked")
				return
			}
			hours, mins, rest := secs/3600, (secs%3600)/60, secs%60
			switch {
			case hours > 0:
				fmt.Printf("%dh %dm %ds\n", hours, mins, rest)
			case mins > 0:
				fmt.Printf("%dm %ds\n", mins, rest)
			default:
				fmt.Printf("%ds\n", rest)
			}
		},
	}
}
