package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"moneymind/internal/config"
	"moneymind/internal/ipc"
	"moneymind/internal/queue"
	"moneymind/internal/upload"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var ownerID string
	var optionPairs []string
	var optionsJSON string

	cmd := &cobra.Command{
		Use:   "submit <image>...",
		Short: "Upload images now, or queue them until the network recovers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := parseSubmitOptions(optionsJSON, optionPairs)
			if err != nil {
				return err
			}
			files, err := readSubmitFiles(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					Files:   files,
					OwnerID: strings.TrimSpace(ownerID),
					Options: options,
				})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderOutcomes(resp.Results))
				if failed := countFailed(resp.Results); failed > 0 {
					return fmt.Errorf("%d of %d files were not accepted", failed, len(resp.Results))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "Supplier id the images belong to")
	cmd.Flags().StringArrayVarP(&optionPairs, "option", "o", nil, "Upload option as key=value (repeatable)")
	cmd.Flags().StringVar(&optionsJSON, "options", "", "Upload options as a JSON object")
	return cmd
}

func readSubmitFiles(paths []string) ([]ipc.SubmitFile, error) {
	files := make([]ipc.SubmitFile, 0, len(paths))
	for _, arg := range paths {
		path, err := config.ExpandPath(arg)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		files = append(files, ipc.SubmitFile{
			Name:     filepath.Base(path),
			MimeType: upload.DetectMimeType(data),
			Data:     data,
		})
	}
	return files, nil
}

func parseSubmitOptions(raw string, pairs []string) (queue.Options, error) {
	var options queue.Options
	if raw = strings.TrimSpace(raw); raw != "" {
		parsed, err := queue.ParseOptions(raw)
		if err != nil {
			return nil, fmt.Errorf("--options must be a JSON object: %w", err)
		}
		options = parsed
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New("--option expects key=value")
		}
		if options == nil {
			options = queue.Options{}
		}
		options[key] = value
	}
	return options, nil
}

func renderOutcomes(results []upload.Outcome) string {
	rows := make([][]string, 0, len(results))
	for _, result := range results {
		state := "rejected"
		detail := result.Error
		switch {
		case result.Uploaded:
			state = "uploaded"
			detail = result.Message
		case result.Saved:
			state = fmt.Sprintf("queued #%d", result.ID)
			detail = result.Message
		}
		rows = append(rows, []string{result.FileName, state, detail})
	}
	return renderTable([]string{"File", "Result", "Detail"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft})
}

func countFailed(results []upload.Outcome) int {
	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}
	return failed
}
