package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagVerbose    bool
	flagOutput     string
	flagConfigFile string
	flagProjectDir string
	flagAddr       string
	flagDryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "noface-orchestrator",
	Short: "Autonomous agent orchestrator",
	Long: `noface-orchestrator drives a pool of implement/review agent workers
against a git project, coordinating them through a shared state store,
a compliance engine and an external issue tracker.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "output format (json, table)")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file (default: .noface/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagProjectDir, "project-dir", ".", "project git repository root")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "127.0.0.1:8765", "orchestrator control server address")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "skip workspace creation and merges, for a no-side-effects trial run")
}

// GetDryRun reports whether --dry-run was set.
func GetDryRun() bool { return flagDryRun }

// GetVerbose reports whether -v/--verbose was set.
func GetVerbose() bool { return flagVerbose }

// GetOutput returns the requested output format.
func GetOutput() string { return flagOutput }

// GetProjectDir returns the project repository root.
func GetProjectDir() string { return flagProjectDir }

// GetCurrentUser returns the OS user's login name, falling back to the
// USER environment variable and finally "unknown".
func GetCurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func syncConfigFlagToEnv() {
	if flagConfigFile != "" {
		os.Setenv("NOFACE_CONFIG", flagConfigFile)
	}
}

// newLogger builds the process-wide structured logger, console-formatted
// for a terminal and leveled by --verbose.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
