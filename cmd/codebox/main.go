package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"codebox-relay/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "codebox",
		Short:        "Relay bridge, agent manager and AI code box",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "codebox.json", "Path to config JSON file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("load config: %v", err)
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(
		newManagerCmd(load),
		newServeCmd(load),
		newChatCmd(load),
		newLaunchCmd(load),
		newActivateCmd(load),
		newShutdownCmd(load),
		newProfileCmd(load),
	)
	return root
}

type configLoader func() (*config.Config, error)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
