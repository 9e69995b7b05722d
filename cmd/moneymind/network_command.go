package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"moneymind/internal/ipc"
)

func newNetworkCommand(ctx *commandContext) *cobra.Command {
	networkCmd := &cobra.Command{
		Use:   "network",
		Short: "Report connectivity changes to the daemon",
	}

	var effectiveType string
	onlineCmd := &cobra.Command{
		Use:   "online",
		Short: "Mark the network as online; pending uploads are retried",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportNetwork(cmd, ctx, true, effectiveType)
		},
	}
	onlineCmd.Flags().StringVar(&effectiveType, "type", "", "Effective connection type (slow-2g, 2g, 3g, 4g)")

	offlineCmd := &cobra.Command{
		Use:   "offline",
		Short: "Mark the network as offline; new uploads are queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportNetwork(cmd, ctx, false, "")
		},
	}

	networkCmd.AddCommand(onlineCmd, offlineCmd)
	return networkCmd
}

func reportNetwork(cmd *cobra.Command, ctx *commandContext, online bool, effectiveType string) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.ReportNetwork(online, effectiveType)
		if err != nil {
			return err
		}
		if ctx.JSONMode() {
			return writeJSON(cmd, resp.Network)
		}
		state := "offline"
		if resp.Network.Online {
			state = "online"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Network %s (quality: %s)\n", state, resp.Network.Quality)
		return nil
	})
}
