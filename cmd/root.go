package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/config"
)

// Version should be set during build:
//
//	go build -ldflags "-X github.com/EdmarFn/metamask-buddy-challenge/cmd.Version=1.2.3" .
var Version = "dev"

var (
	cfgInput string
	logLevel string

	cfgPath string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "metamask-buddy",
	Short: "Terminal companion for a MetaMask wallet",
	Long: `metamask-buddy connects to a MetaMask-compatible wallet, follows account
and network changes, switches networks and lists recent transfer history.

The wallet is reached either through a browser relay page (the extension
stays in the browser) or through a configured JSON-RPC node.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfgPath, err = config.GetConfigPath(cfgInput)
		if err != nil {
			return fmt.Errorf("determining config path: %w", err)
		}
		cfg, err = config.LoadConfigFromFile(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config from %s: %w", cfgPath, err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgInput, "config", "", "path to configuration file (default: ~/"+config.ConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, historyCmd, checkCmd)
}
