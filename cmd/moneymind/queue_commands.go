package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"moneymind/internal/ipc"
	"moneymind/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline upload queue",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueClearFailedCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts and stored bytes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueStats()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				rows := [][]string{
					{"Pending", strconv.Itoa(resp.Pending)},
					{"Failed", strconv.Itoa(resp.Failed)},
					{"Total", strconv.Itoa(resp.Total)},
					{"Stored", formatBytes(resp.TotalSize)},
					{"Armed retries", strconv.Itoa(resp.PendingRetries)},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(status)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderRecords(resp.Items))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show records with this status (pending or failed)")
	return cmd
}

func renderRecords(records []queue.Record) string {
	rows := make([][]string, 0, len(records))
	var total int64
	for _, rec := range records {
		total += rec.ByteSize
		owner := rec.Owner()
		if owner == "" {
			owner = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			rec.FileName,
			owner,
			string(rec.Status),
			strconv.Itoa(rec.RetryCount),
			formatBytes(rec.ByteSize),
			rec.EnqueuedAt.Local().Format("2006-01-02 15:04"),
			rec.LastError,
		})
	}
	headers := []string{"ID", "File", "Owner", "Status", "Retries", "Size", "Queued", "Last error"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
	footer := []string{"", fmt.Sprintf("%d uploads", len(records)), "", "", "", formatBytes(total)}
	return tableSpec{headers: headers, aligns: aligns, rows: rows, footer: footer}.render()
}

func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Remove uploads that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClearFailed()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d failed uploads\n", resp.Removed)
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database health (schema, integrity)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", resp.DBPath)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(resp.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(resp.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", resp.SchemaVersion)
				fmt.Fprintf(out, "pending_uploads table present: %s\n", yesNo(resp.TableExists))
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(resp.IntegrityCheck))
				fmt.Fprintf(out, "Total records: %d\n", resp.TotalRecords)
				if resp.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", resp.Error)
				}
				return nil
			})
		},
	}
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Retry pending uploads now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sync()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Result)
				}
				out := cmd.OutOrStdout()
				result := resp.Result
				if result.Offline {
					fmt.Fprintln(out, "Offline; pending uploads will retry when the network recovers")
					return nil
				}
				fmt.Fprintf(out, "Pending: %d, attempted: %d, uploaded: %d, rescheduled: %d, failed: %d, skipped: %d\n",
					result.Pending, result.Attempted, result.Uploaded, result.Scheduled, result.Exhausted, result.Skipped)
				return nil
			})
		},
	}
}
