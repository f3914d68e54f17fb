package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus-chat/internal/config"
	"github.com/nexus-ai/nexus-chat/internal/logging"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus chat server and terminal client",
	Long: `Nexus pairs a conversational assistant with an animated avatar and
spoken replies. "serve" runs the session server; "chat" connects to it.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the config file, then initializes logging on
// out. Validation warnings are logged and returned.
func loadConfig(out io.Writer, console bool) (config.Config, []string, error) {
	_ = godotenv.Load()

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}

	format := cfg.Log.Format
	if console {
		format = "console"
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: format, Output: out})

	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	return cfg, warnings, nil
}
