package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quotesync/internal/model"
	"quotesync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Quote snapshot replication",
}

var syncEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a quote snapshot for replication",
	RunE: func(cmd *cobra.Command, args []string) error {
		quoteID, _ := cmd.Flags().GetString("quote")
		customer, _ := cmd.Flags().GetString("customer")
		payloadFile, _ := cmd.Flags().GetString("payload-file")
		snapshotPath, _ := cmd.Flags().GetString("snapshot-path")

		req := syncer.EnqueueRequest{QuoteID: quoteID, Customer: customer, SnapshotPath: snapshotPath}
		if payloadFile != "" {
			data, err := os.ReadFile(payloadFile)
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}
			if !json.Valid(data) {
				return fmt.Errorf("payload %s is not valid JSON", payloadFile)
			}
			req.Payload = data
		}

		a, err := newApp(cmd.Context(), "SyncEnqueue")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Enqueue(cmd.Context(), req)
		if err != nil {
			return err
		}
		printOK(fmt.Sprintf("Queued quote %s as item %d", quoteID, id))
		return nil
	},
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the sync queue",
	Long: `Process the sync queue until interrupted. With --once, drain the queue and exit. A
failing item is retried until it reaches sync.max_attempts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, "SyncRun")
		if err != nil {
			return err
		}
		defer a.Close()

		w := a.SyncWorker()
		if !once {
			return w.Run(ctx)
		}

		var done, retried, failed int
		for ctx.Err() == nil {
			res, err := w.ProcessNext(ctx)
			if err != nil {
				return err
			}
			if res == nil {
				break
			}
			switch res.Status {
			case model.SyncDone:
				done++
				fmt.Printf("%s #%d %s %s\n", statusText(res.Status), res.ItemID, res.QuoteID, faint(res.SnapshotKey))
			case model.SyncPending:
				retried++
				fmt.Printf("%s #%d %s %v\n", statusText(res.Status), res.ItemID, res.QuoteID, res.Err)
			default:
				failed++
				fmt.Printf("%s #%d %s %v\n", statusText(model.SyncFailed), res.ItemID, res.QuoteID, res.Err)
			}
		}

		fmt.Printf("\n%s done, %d retrying, %d failed\n", bold(done), retried, failed)
		return nil
	},
}

func init() {
	syncEnqueueCmd.Flags().String("quote", "", "Quote number")
	syncEnqueueCmd.Flags().String("customer", "", "Customer name")
	syncEnqueueCmd.Flags().String("payload-file", "", "File holding the inline JSON snapshot")
	syncEnqueueCmd.Flags().String("snapshot-path", "", "Snapshot file read at sync time")
	syncEnqueueCmd.MarkFlagRequired("quote")
	syncEnqueueCmd.MarkFlagsMutuallyExclusive("payload-file", "snapshot-path")

	syncRunCmd.Flags().Bool("once", false, "Drain the queue once and exit")

	syncCmd.AddCommand(syncEnqueueCmd)
	syncCmd.AddCommand(syncRunCmd)
	rootCmd.AddCommand(syncCmd)
}
