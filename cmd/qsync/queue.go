package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quotesync/internal/model"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		switch status {
		case "", model.SyncPending, model.SyncProcessing, model.SyncDone, model.SyncFailed:
		default:
			return fmt.Errorf("unknown status %q", status)
		}

		a, err := newApp(cmd.Context(), "QueueList")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.Registry().ListSyncItems(cmd.Context(), status, limit)
		if err != nil {
			return fmt.Errorf("listing queue: %w", err)
		}
		if len(items) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tQUOTE\tCUSTOMER\tATTEMPTS\tUPDATED\tLAST ERROR")
		for _, it := range items {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
				it.ID, statusText(it.Status), it.QuoteID, it.Customer, it.Attempts,
				it.UpdatedAt.Format("2006-01-02 15:04:05"), truncate(it.LastError, 60))
		}
		return tw.Flush()
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue ID",
	Short: "Return a failed item to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid queue item id %q", args[0])
		}

		a, err := newApp(cmd.Context(), "QueueRequeue")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Requeue(cmd.Context(), id); err != nil {
			return err
		}
		printOK(fmt.Sprintf("Item %d returned to pending", id))
		return nil
	},
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead letters",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "DLQList")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Registry().ListDeadLetters(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("listing dead letters: %w", err)
		}

		if output != "table" {
			if entries == nil {
				entries = []*model.DeadLetterEntry{}
			}
			return encode(os.Stdout, output, entries)
		}

		if len(entries) == 0 {
			fmt.Println("No dead letters")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tITEM\tQUOTE\tATTEMPTS\tCREATED\tERROR")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\n",
				e.ID, e.QueueItemID, e.QuoteID, e.Attempts,
				e.CreatedAt.Format("2006-01-02 15:04:05"), truncate(e.Error, 60))
		}
		return tw.Flush()
	},
}

func init() {
	queueListCmd.Flags().String("status", "", "Filter by status (pending, processing, done, failed)")
	queueListCmd.Flags().IntP("limit", "n", 50, "Maximum number of items")
	dlqListCmd.Flags().StringP("output", "o", "table", "Output format (table, yaml, json)")
	dlqListCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	dlqCmd.AddCommand(dlqListCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(dlqCmd)
}
