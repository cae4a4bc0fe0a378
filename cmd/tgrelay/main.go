// Package main is the entry point for the tgrelay CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/tgrelay/tgrelay/internal/config"
	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/monitor"
	"github.com/tgrelay/tgrelay/internal/pairing"
	"github.com/tgrelay/tgrelay/internal/relay"
	"github.com/tgrelay/tgrelay/pkg/app"

	pairingsqlite "github.com/tgrelay/tgrelay/modules/pairing/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tgrelay",
		Short:         "Multi-tenant Telegram webhook to agent relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Persistent data directory")
	root.AddCommand(versionCmd(), startCmd(), configCmd(), pairingCmd(), probeCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("tgrelay %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Println("\nNo compiled modules.")
				return
			}
			fmt.Println("\nCompiled modules:")
			for _, mod := range mods {
				fmt.Printf("  %s\n", mod.ID)
			}
			if procs := core.GetModulesByNamespace("processor"); len(procs) > 0 {
				fmt.Println("\nProcessors:")
				for _, mod := range procs {
					fmt.Printf("  %s\n", mod.ID)
				}
			}
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			levelStr, _ := cmd.Flags().GetString("log-level")

			var level slog.Level
			if err := level.UnmarshalText([]byte(levelStr)); err != nil {
				return fmt.Errorf("invalid log level %q", levelStr)
			}

			return app.Run(app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				Commit:     commit,
				Date:       date,
				DataDir:    dataDir,
				LogLevel:   level,
			})
		},
	}
	cmd.Flags().String("log-level", "info", "Minimum log level (debug, info, warn, error)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			dataDir, _ := cmd.Flags().GetString("data-dir")
			if dataDir == "" {
				dataDir = app.DefaultDataDir()
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelWarn,
			}))
			appCtx := core.NewAppContext(logger, dataDir)
			appCtx = appCtx.WithModuleConfigs(cfg.Modules)

			application := core.NewApp(appCtx)
			ids := config.Resolve(cfg)
			if err := application.LoadModules(ids); err != nil {
				return err
			}
			defer application.Stop()

			fmt.Printf("Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage pairing requests",
	}

	list := &cobra.Command{
		Use:   "list <account>",
		Short: "List pairing requests for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openPairingStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			reqs, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Println("No pairing requests.")
				return nil
			}
			fmt.Printf("%-10s %-10s %-16s %-16s %s\n", "CODE", "STATUS", "SENDER", "USERNAME", "CREATED")
			for _, req := range reqs {
				fmt.Printf("%-10s %-10s %-16s %-16s %s\n",
					req.Code, req.Status, req.ExternalID, req.Username,
					req.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	approve := &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing request and notify the chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openPairingStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			req, err := store.Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Approved %s for sender %s (account %s)\n", req.Code, req.ExternalID, req.Channel)

			// Best effort: the approval is already persisted, a failed
			// notification only means the user finds out on their next message.
			if err := notifyPaired(cmd, req.Channel, req.ChatID); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: notification not delivered: %v\n", err)
			}
			return nil
		},
	}

	cmd.AddCommand(list, approve)
	return cmd
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check outbound reachability for every account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, dataDir, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelWarn,
			}))
			appCtx := core.NewAppContext(logger, dataDir)
			appCtx = appCtx.WithModuleConfigs(cfg.Modules)

			application := core.NewApp(appCtx)
			if err := application.LoadModules(config.Resolve(cfg)); err != nil {
				return err
			}
			defer application.Stop()

			mod, ok := application.Module("relay.accounts")
			if !ok {
				return fmt.Errorf("relay.accounts module not configured")
			}
			accounts, ok := mod.(*monitor.Module)
			if !ok {
				return fmt.Errorf("unexpected module type %T", mod)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			results := accounts.ProbeAll(ctx)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
}

// loadCLIConfig resolves and loads the config file plus the effective
// data directory for offline commands.
func loadCLIConfig(cmd *cobra.Command) (*config.Config, string, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		resolved, err := app.ResolveConfigPath()
		if err != nil {
			return nil, "", err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = app.DefaultDataDir()
	}
	return cfg, dataDir, nil
}

// openPairingStore opens the pairing database the configured module uses.
func openPairingStore(cmd *cobra.Command) (pairing.Store, func() error, error) {
	cfg, dataDir, err := loadCLIConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	var dbCfg pairingsqlite.Config
	if node, ok := cfg.Modules["pairing.sqlite"]; ok {
		if err := node.Decode(&dbCfg); err != nil {
			return nil, nil, fmt.Errorf("decoding pairing.sqlite config: %w", err)
		}
	}
	path := dbCfg.Path
	if path == "" {
		path = filepath.Join(dataDir, "pairing.db")
	}
	return pairingsqlite.OpenStore(path)
}

// notifyPaired resolves the account's relay endpoint from config and
// sends the approval notification to the paired chat.
func notifyPaired(cmd *cobra.Command, accountID, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("pairing request has no chat id")
	}

	cfg, _, err := loadCLIConfig(cmd)
	if err != nil {
		return err
	}
	node, ok := cfg.Modules["relay.accounts"]
	if !ok {
		return fmt.Errorf("relay.accounts module not configured")
	}
	var accountsCfg monitor.Config
	if err := node.Decode(&accountsCfg); err != nil {
		return fmt.Errorf("decoding relay.accounts config: %w", err)
	}

	endpoint, err := accountsCfg.ResolveEndpoint(accountID)
	if err != nil {
		return err
	}
	if endpoint.URL == "" {
		return fmt.Errorf("account %s has no outbound_url", accountID)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	sender := relay.NewSender(&http.Client{Timeout: 30 * time.Second}, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if res := sender.SendText(ctx, endpoint, chatID, monitor.PairedNotification); !res.OK {
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}
