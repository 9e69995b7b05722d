package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"moneymind/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon's ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Sent {
					fmt.Fprintln(out, "Test notification sent")
					return nil
				}
				if resp.Message == "" {
					return errors.New("test notification was not delivered")
				}
				fmt.Fprintf(out, "Skipped: %s\n", resp.Message)
				return nil
			})
		},
	}
}
