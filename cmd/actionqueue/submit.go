package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/velmie/actionqueue"
)

type submitOutput struct {
	Status  string `json:"status"`
	EntryID string `json:"entry_id,omitempty"`
	Pending int    `json:"pending"`
}

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit KIND PAYLOAD",
		Short: "Send an action, queueing it if the backend is unreachable",
		Long: `Send one action to the backend. When the network is unavailable the action is
saved to the configured store and replayed by a later flush or run.

Example:
  actionqueue submit completeQuest '{"questId":"q1"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, payload := args[0], json.RawMessage(args[1])
			if err := actionqueue.ValidateAction(kind, payload); err != nil {
				return usageError("invalid action", err)
			}

			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			out := opts.printer(cmd.OutOrStdout())
			res, err := sess.client.Submit(cmd.Context(), kind, payload)
			var logicErr *actionqueue.LogicError
			if errors.As(err, &logicErr) {
				if perr := out.rejected(logicErr); perr != nil {
					return perr
				}

				return &exitError{code: exitFailure, msg: "action rejected", err: err}
			}
			if err != nil {
				return err
			}

			result := submitOutput{Status: res.Status.String(), Pending: sess.client.PendingCount()}
			if res.Status == actionqueue.StatusSavedOffline {
				result.EntryID = res.EntryID.String()
			}

			return out.success(result, func(w io.Writer) {
				if result.EntryID != "" {
					fmt.Fprintf(w, "%s %s (entry %s, %d pending)\n", kind, result.Status, result.EntryID, result.Pending)

					return
				}
				fmt.Fprintf(w, "%s %s (%d pending)\n", kind, result.Status, result.Pending)
			})
		},
	}
}
