package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"moneymind/internal/cacheworker"
	"moneymind/internal/daemonrun"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run and control the cache/proxy worker",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the cache/proxy worker in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.RunWorker(cmd.Context(), cfg, daemonrun.Options{LogLevel: ctx.logLevel()})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the worker version, state and caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status cacheworker.Status
			if err := workerRequest(ctx, http.MethodGet, "status", nil, &status); err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, status)
			}
			rows := [][]string{
				{"Version", status.Version},
				{"State", string(status.State)},
				{"Origin", status.Origin},
				{"Caches", strings.Join(status.Caches, ", ")},
				{"Entries", fmt.Sprintf("%d", status.Entries)},
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
			return nil
		},
	}

	messageCmd := &cobra.Command{
		Use:   "message",
		Short: "Post a control message to the worker",
	}
	messageCmd.AddCommand(&cobra.Command{
		Use:   "get-version",
		Short: "Ask the worker for its cache version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply cacheworker.Reply
			if err := workerRequest(ctx, http.MethodPost, "message", cacheworker.Message{Type: cacheworker.MessageGetVersion}, &reply); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Version)
			return nil
		},
	})
	messageCmd.AddCommand(&cobra.Command{
		Use:   "skip-waiting",
		Short: "Activate an installed worker that is waiting",
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply struct {
				State cacheworker.State `json:"state"`
			}
			if err := workerRequest(ctx, http.MethodPost, "message", cacheworker.Message{Type: cacheworker.MessageSkipWaiting}, &reply); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Worker state: %s\n", reply.State)
			return nil
		},
	})

	var tag string
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Fire a background sync event on the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply struct {
				Handled bool `json:"handled"`
			}
			body := map[string]string{"tag": tag}
			if err := workerRequest(ctx, http.MethodPost, "sync", body, &reply); err != nil {
				return err
			}
			if reply.Handled {
				fmt.Fprintln(cmd.OutOrStdout(), "Sync handled")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Tag %q ignored\n", tag)
			}
			return nil
		},
	}
	syncCmd.Flags().StringVar(&tag, "tag", cacheworker.SyncTag, "Sync tag to fire")

	workerCmd.AddCommand(runCmd, statusCmd, messageCmd, syncCmd)
	return workerCmd
}

// workerRequest calls a worker control endpoint and decodes its JSON answer into out.
func workerRequest(ctx *commandContext, method, endpoint string, body any, out any) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	target := "http://" + cfg.Paths.WorkerBind + cacheworker.ControlPrefix + endpoint
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to worker at %s: %w (start it with `moneymind worker run`)", cfg.Paths.WorkerBind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("worker %s: %s", endpoint, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
