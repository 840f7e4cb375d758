// Command lanternd runs the LanternChat server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanternchat/lantern/internal/config"
	"github.com/lanternchat/lantern/internal/logging"
	"github.com/lanternchat/lantern/internal/server"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "lanternd",
	Short:         "LanternChat server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	app, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("lanternd: %w", err)
	}

	return app.Run(context.Background())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
