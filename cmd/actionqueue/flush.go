package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/velmie/actionqueue"
)

type flushOutput struct {
	actionqueue.FlushResult
	Pending int `json:"pending"`
}

func newFlushCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Replay queued actions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			res, err := sess.client.FlushNow(cmd.Context())
			if err != nil {
				return err
			}
			out := flushOutput{FlushResult: res, Pending: sess.client.PendingCount()}

			return opts.printer(cmd.OutOrStdout()).success(out, func(w io.Writer) {
				fmt.Fprintf(w, "attempted=%d delivered=%d retried=%d dropped=%d skipped=%d network_down=%t pending=%d\n",
					res.Attempted, res.Delivered, res.Retried, res.Dropped, res.Skipped, res.NetworkDown, out.Pending)
			})
		},
	}
}
