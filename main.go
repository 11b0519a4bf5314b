package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nearchat/config"
	"nearchat/logging"
	"nearchat/storage"
)

var (
	dataDirFlag  string
	dbPathFlag   string
	verboseFlag  bool
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "nearchat",
	Short: "Discover nearby people and exchange friend requests",
	Long: `nearchat advertises your profile to people on the same network,
shows who is nearby on a radar, and manages friend requests.

Run "nearchat profile init" once to create your identity.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default: per-user config dir, or $"+config.DataDirEnv+")")
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "Shared database file (default: config database_path, else a private database in the data dir)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(radarCmd)
	rootCmd.AddCommand(advertiseCmd)
	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(friendsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// app holds what every command needs: config, logger and the store.
type app struct {
	dataDir  string
	cfg      *config.LocalConfig
	cfgPath  string
	logger   *zap.Logger
	closeLog func() error
	store    *storage.Store
}

// openApp loads config and opens the store. With logToFile the logger writes
// to the data directory so a full-screen view keeps the terminal.
func openApp(logToFile bool) (*app, error) {
	cfg, cfgPath, err := config.LoadOrCreate(dataDirFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{
		dataDir: filepath.Dir(cfgPath),
		cfg:     cfg,
		cfgPath: cfgPath,
	}

	level := a.logLevel()
	if logToFile {
		logger, closeLog, err := logging.NewFileLogger(level, config.LogPath(a.dataDir))
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logger = logger
		a.closeLog = closeLog
	} else {
		a.logger = logging.NewConsoleLogger(level, os.Getenv("NO_COLOR") == "")
	}

	store, dbPath, err := a.openStore()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	store.SetLogger(logging.For(a.logger, logging.ComponentStorage))
	a.store = store

	logging.For(a.logger, logging.ComponentCLI).Debug("app opened",
		zap.String("config", cfgPath),
		zap.String("database", dbPath),
	)
	return a, nil
}

// openStore opens the shared database when one is configured, otherwise
// the install's private one.
func (a *app) openStore() (*storage.Store, string, error) {
	path := a.cfg.ResolveDatabasePath(a.dataDir)
	if flag := strings.TrimSpace(dbPathFlag); flag != "" {
		abs, err := filepath.Abs(flag)
		if err != nil {
			return nil, "", fmt.Errorf("resolve database path: %w", err)
		}
		path = abs
	}
	if path == "" {
		return storage.Open(a.dataDir)
	}
	store, err := storage.OpenPath(path)
	if err != nil {
		return nil, "", err
	}
	return store, path, nil
}

func (a *app) logLevel() zapcore.Level {
	switch {
	case verboseFlag:
		return zapcore.DebugLevel
	case logLevelFlag != "":
		return logging.ParseLevel(logLevelFlag)
	default:
		return logging.ParseLevel(a.cfg.LogLevel)
	}
}

// Close releases the store and flushes logs.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("database close failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

// requireIdentity fails for a signed-out install.
func (a *app) requireIdentity() error {
	if !a.cfg.SignedIn() {
		return fmt.Errorf("no profile yet: run \"nearchat profile init\" first")
	}
	return nil
}

