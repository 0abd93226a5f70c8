package main

import (
	"log"

	"github.com/spf13/cobra"

	"codebox-relay/internal/agent"
	"codebox-relay/internal/bridge"
	"codebox-relay/internal/manager"
)

func newManagerCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "manager",
		Short: "Run the relay manager until a shutdown message or signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			srv := bridge.NewServer(cfg.BridgeHost, cfg.BridgePort)
			spawner := &agent.ExecSpawner{Command: cfg.AgentCommand, Dir: cfg.AgentDir}
			m := manager.New(srv, spawner, manager.Options{
				StatusInterval: cfg.StatusInterval(),
				TerminateGrace: cfg.TerminateGrace(),
			})
			if err := m.Start(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			select {
			case <-ctx.Done():
				log.Printf("signal received, stopping manager")
				m.Stop()
			case <-m.Done():
			}
			return nil
		},
	}
}
