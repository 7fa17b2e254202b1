package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type pendingOutput struct {
	Pending int `json:"pending"`
}

type inspectEntry struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Priority      string    `json:"priority"`
	RetryCount    int       `json:"retry_count"`
	CreatedAt     time.Time `json:"created_at"`
	LastTouchedAt time.Time `json:"last_touched_at"`
	Payload       string    `json:"payload,omitempty"`
}

func newPendingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the number of queued actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, closeStore, err := openQueue(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeStore()

			out := pendingOutput{Pending: queue.Size()}

			return opts.printer(cmd.OutOrStdout()).success(out, func(w io.Writer) {
				fmt.Fprintln(w, out.Pending)
			})
		},
	}
}

func newInspectCommand(opts *rootOptions) *cobra.Command {
	var withPayload bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List queued actions in delivery order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, closeStore, err := openQueue(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeStore()

			snapshot := queue.SnapshotForFlush()
			entries := make([]inspectEntry, 0, len(snapshot))
			for _, e := range snapshot {
				item := inspectEntry{
					ID:            e.ID.String(),
					Kind:          e.ActionKind,
					Priority:      e.Priority.String(),
					RetryCount:    e.RetryCount,
					CreatedAt:     e.CreatedAt,
					LastTouchedAt: e.LastTouchedAt,
				}
				if withPayload {
					item.Payload = string(e.Payload)
				}
				entries = append(entries, item)
			}

			return opts.printer(cmd.OutOrStdout()).success(entries, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tPRIORITY\tRETRIES\tCREATED")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.Kind, e.Priority, e.RetryCount, e.CreatedAt.Format(time.RFC3339))
					if e.Payload != "" {
						fmt.Fprintf(tw, "\t%s\t\t\t\n", e.Payload)
					}
				}
				_ = tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&withPayload, "payload", false, "include payloads")

	return cmd
}
