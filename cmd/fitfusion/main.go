package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fitfusion/fitfusion/internal/app"
	"github.com/fitfusion/fitfusion/internal/chat"
	"github.com/fitfusion/fitfusion/internal/config"
	"github.com/fitfusion/fitfusion/internal/logger"
	"github.com/fitfusion/fitfusion/internal/storage"
)

var (
	cfgFile     string
	showVersion bool
	backupOut   string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fitfusion",
	Short: "Offline cache proxy and local chat store for FitFusion",
	Long: `fitfusion sits in front of the FitFusion web app and keeps it usable
offline: static assets and images are served cache-first, API calls
network-first with a cached fallback. It also owns the local chat
store, with backup, restore and search.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Println("fitfusion", version)
			return nil
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.fitfusion/config.yaml)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show version")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(configCmd)
}

// loadApp reads configuration, sets up logging and builds the app
func loadApp() (*app.App, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Init(cfg.LoggerConfig(), os.Stderr)

	a, err := app.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating app: %w", err)
	}
	return a, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()
		return a.Run(ctx)
	},
}

// backupCmd handles chat backups
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export or import chat backups",
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export chat data to a dated JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cfg, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		dir := backupOut
		if dir == "" {
			dir = cfg.Chat.BackupDir
		}
		path, err := a.Chat().WriteBackupFile(cmd.Context(), dir)
		if err != nil {
			return err
		}
		fmt.Printf("Backup written to: %s\n", path)
		return nil
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace chat data with a backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := chat.ReadBackupFile(args[0])
		if err != nil {
			return err
		}

		a, _, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Chat().ImportBackup(cmd.Context(), b); err != nil {
			return err
		}
		fmt.Printf("Imported %d conversations from %s\n", len(b.Conversations), args[0])
		return nil
	},
}

func init() {
	backupExportCmd.Flags().StringVarP(&backupOut, "out", "o", "", "output directory (default is chat.backup_dir)")
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Chat().SearchMessages(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No messages found")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s:\n", r.ConversationID)
			for _, m := range r.Messages {
				fmt.Printf("  [%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.SenderID, m.Content)
			}
		}
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show chat storage usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.Chat().GetStorageUsage(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Used: %d bytes\n", u.Used)
		fmt.Printf("Quota: %d bytes\n", u.Quota)
		fmt.Printf("Percentage: %.2f%%\n", u.Percentage)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all chat data",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Chat().ClearAllData(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Chat data cleared")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync chat data and stamp the backup time",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()
		if err := a.Chat().SyncData(ctx); err != nil {
			return err
		}
		fmt.Println("Sync completed")
		return nil
	},
}

// configCmd handles configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()

		fmt.Printf("Upstream origin [%s]: ", cfg.Server.Origin)
		var origin string
		fmt.Scanln(&origin)
		if origin != "" {
			cfg.Server.Origin = origin
		}

		fmt.Printf("Storage driver (%s) [%s]: ", strings.Join(storage.Drivers(), "/"), cfg.Storage.Driver)
		var driver string
		fmt.Scanln(&driver)
		if driver != "" {
			cfg.Storage.Driver = driver
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Configuration saved to: %s\n", cfg.ConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Printf("Listen Addr: %s\n", cfg.Server.Addr)
		fmt.Printf("Origin: %s\n", cfg.Server.Origin)
		fmt.Printf("Cache Version: %s-%s\n", cfg.Offline.CachePrefix, cfg.Offline.CacheVersion)
		fmt.Printf("API Prefix: %s\n", cfg.Offline.APIPrefix)
		fmt.Printf("Backend Hosts: %s\n", strings.Join(cfg.Offline.BackendHosts, ", "))
		fmt.Printf("Storage: %s (%s)\n", cfg.Storage.Driver, cfg.StoragePath())
		fmt.Printf("Quota: %d bytes\n", cfg.Storage.QuotaBytes)
		fmt.Printf("Work Dir: %s\n", cfg.Storage.WorkDir)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
