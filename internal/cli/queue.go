package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/EmerBV/figrnet"
)

func (c *CLI) queueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay the offline queue",
		Long: `Inspect and replay the offline queue.

Only persistent stores (queue.store "file" or "leveldb") keep requests
between runs; with the default memory store the queue is always empty.`,
	}

	cmd.AddCommand(c.queueListCommand())
	cmd.AddCommand(c.queueDrainCommand())
	cmd.AddCommand(c.queueClearCommand())

	return cmd
}

func (c *CLI) openQueue() (*figrnet.Client, *figrnet.OfflineQueue, error) {
	client, err := c.newClient()
	if err != nil {
		return nil, nil, err
	}
	q := client.Queue()
	if q == nil {
		client.Close()
		return nil, nil, fmt.Errorf("offline queue is disabled in the config")
	}
	return client, q, nil
}

func (c *CLI) queueListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued requests in replay order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, q, err := c.openQueue()
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			items := q.QueuedRequests()
			if len(items) == 0 {
				printInfo(out, "Queue is empty")
				return nil
			}

			printTitle(out, "%d queued %s", len(items), plural(len(items), "request"))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREQUEST\tPRIORITY\tRETRIES\tQUEUED\tEXPIRES\tLAST ERROR")
			for _, r := range items {
				fmt.Fprintf(tw, "%s\t%s %s\t%s\t%d/%d\t%s\t%s\t%s\n",
					r.ID, r.Endpoint.Method, r.Endpoint.Path, r.Priority,
					r.RetryCount, r.MaxRetries,
					humanize.Time(r.EnqueuedAt), humanize.Time(r.ExpiresAt),
					r.LastError)
			}
			return tw.Flush()
		},
	}
}

func (c *CLI) queueDrainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued requests now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, q, err := c.openQueue()
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			before := q.Len()
			if before == 0 {
				printInfo(out, "Queue is empty")
				return nil
			}

			prog := newProgress(c.Logger)
			report := client.ProcessQueue(cmd.Context())
			prog.done(fmt.Sprintf("Replayed %d queued %s", before, plural(before, "request")))

			printSuccess(out, "Executed %d", report.Executed)
			if report.Retried > 0 {
				printWarning(out, "Retried %d, still queued", report.Retried)
			}
			if report.Dropped > 0 {
				printWarning(out, "Dropped %d after exhausting retries", report.Dropped)
			}
			if report.Expired > 0 {
				printWarning(out, "Expired %d", report.Expired)
			}
			printDetail(out, "%d remaining", q.Len())
			return nil
		},
	}
}

func (c *CLI) queueClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, q, err := c.openQueue()
			if err != nil {
				return err
			}
			defer client.Close()

			n := q.Len()
			q.Clear()
			printSuccess(cmd.OutOrStdout(), "Cleared %d queued %s", n, plural(n, "request"))
			return nil
		},
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
