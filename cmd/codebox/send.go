package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"codebox-relay/internal/bridge"
	"codebox-relay/internal/config"
	"codebox-relay/internal/profile"
	"codebox-relay/internal/types"
)

// sendOnce connects to the manager, sends msg and disconnects.
func sendOnce(cfg *config.Config, msg *types.Message) error {
	client := bridge.NewClient(cfg.BridgeHost, cfg.BridgePort, cfg.ConnectTimeout())
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to manager at %s: %w", cfg.BridgeAddr(), err)
	}
	defer client.Close()
	if err := client.Send(msg); err != nil {
		return err
	}
	log.Printf("sent %s to %s", msg.Type(), cfg.BridgeAddr())
	return nil
}

func newLaunchCmd(load configLoader) *cobra.Command {
	var profileName string
	cmd := &cobra.Command{
		Use:   "launch AGENT_ID [URL]",
		Short: "Ask the manager to launch a browser agent",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			url := ""
			if len(args) == 2 {
				url = args[1]
			}
			if profileName != "" {
				p, err := profile.NewStore(cfg.ProfilesDir).Load(profileName)
				if err != nil {
					return err
				}
				if url == "" {
					url = p.URL
				}
			}
			if url == "" {
				return fmt.Errorf("a URL or --profile is required")
			}
			req := types.LaunchAgent{AgentID: args[0], URL: url}
			return sendOnce(cfg, types.NewMessage(cfg.ClientAgentID, req, types.DirectionOutgoing, types.TypeLaunchAgent))
		},
	}
	cmd.Flags().StringVar(&profileName, "profile", "", "Load the URL from a saved agent profile")
	return cmd
}

func newActivateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "activate AGENT_ID",
		Short: "Activate the live page bridge of a running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			req := types.ActivateRelay{AgentID: args[0]}
			return sendOnce(cfg, types.NewMessage(cfg.ClientAgentID, req, types.DirectionOutgoing, types.TypeActivateRelay))
		},
	}
}

func newShutdownCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the manager and every agent it runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return sendOnce(cfg, types.NewMessage(cfg.ClientAgentID, types.CommandShutdown, types.DirectionOutgoing, types.TypeSystemCommand))
		},
	}
}

func newProfileCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved agent profiles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved profiles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				list, err := profile.NewStore(cfg.ProfilesDir).List()
				if err != nil {
					return err
				}
				for _, p := range list {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Name, p.URL)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "save NAME URL",
			Short: "Save or replace a profile",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return profile.NewStore(cfg.ProfilesDir).Save(profile.Profile{Name: args[0], URL: args[1]})
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete a profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return profile.NewStore(cfg.ProfilesDir).Delete(args[0])
			},
		},
	)
	return cmd
}
