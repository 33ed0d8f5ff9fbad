package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecgard/roster/internal/outbox"
	"github.com/alecgard/roster/internal/upload"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newRecordID asks enqueue to mint a record id.
const newRecordID = "new"

var (
	syncOnce        bool
	syncMetricsAddr string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload queued local writes until interrupted",
	RunE:  runSync,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <table> <upsert|patch|delete> <id|new> [json]",
	Short: "Queue a local write for upload",
	Args:  cobra.RangeArgs(3, 4),
	RunE:  runEnqueue,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sign-in state and pending uploads",
	RunE:  runStatus,
}

func init() {
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "drain the queue once and exit")
	syncCmd.Flags().StringVar(&syncMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while syncing")
	rootCmd.AddCommand(syncCmd, enqueueCmd, statusCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	snap, err := env.signedIn(ctx)
	if err != nil {
		return err
	}
	env.logger.Info("sync starting", "state", snap.State.String(), "pending", env.queue.Depth())

	if syncOnce {
		for env.queue.Depth() > 0 {
			if err := env.connector.DrainOnce(ctx); err != nil {
				return err
			}
		}
		printFailures(cmd, env.connector.Failures())
		return nil
	}

	if syncMetricsAddr != "" {
		srv := &http.Server{Addr: syncMetricsAddr, Handler: env.metrics.Exposition(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				env.logger.Error("metrics server error", "error", err)
			}
		}()
		defer srv.Close()
	}

	driver := upload.NewDriver(env.connector, env.cfg.Upload.Interval)
	driver.OnIdle(func() { env.logger.Debug("outbox drained") })
	go driver.Start(ctx)

	<-ctx.Done()
	driver.Stop()
	env.logger.Info("sync stopped", "pending", env.queue.Depth())
	printFailures(cmd, env.connector.Failures())
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	kind, err := outbox.ParseKind(args[1])
	if err != nil {
		return err
	}
	recordID := args[2]
	if recordID == newRecordID {
		recordID = uuid.NewString()
	}
	var payload json.RawMessage
	if len(args) == 4 {
		payload = json.RawMessage(args[3])
	}

	batchID, err := env.queue.Enqueue(cmd.Context(), []outbox.PendingMutation{{
		Table:    args[0],
		Kind:     kind,
		RecordID: recordID,
		Payload:  payload,
	}})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s %s/%s (batch %s, %d pending).\n", kind, args[0], recordID, batchID, env.queue.Depth())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	snap := env.manager.Bootstrap(cmd.Context())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State:    %s\n", snap.State)
	if snap.Session != nil {
		fmt.Fprintf(out, "Identity: %s\n", snap.Session.OwnerID)
	}
	switch {
	case snap.Profile != nil && snap.Verified:
		fmt.Fprintf(out, "Profile:  %s\n", snap.Profile.DisplayName)
	case snap.Profile != nil:
		fmt.Fprintf(out, "Profile:  %s (cached)\n", snap.Profile.DisplayName)
	case snap.NeedsRegistration():
		fmt.Fprintln(out, "Profile:  none, run `roster profile create`")
	}
	if snap.Notice != "" {
		fmt.Fprintf(out, "Notice:   %s\n", snap.Notice)
	}
	if snap.Err != nil {
		fmt.Fprintf(out, "Error:    %v\n", snap.Err)
	}

	batches := env.queue.Snapshot()
	fmt.Fprintf(out, "Pending:  %d batch(es)\n", len(batches))
	for _, b := range batches {
		fmt.Fprintf(out, "  %s  %s  %d mutation(s)\n", b.ID, b.CreatedAt.Format(time.RFC3339), len(b.Mutations))
	}
	return nil
}

func printFailures(cmd *cobra.Command, failures []upload.Failure) {
	if len(failures) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d write(s) rejected by the server:\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(out, "  %s %s/%s: status %d: %s\n", f.Kind, f.Table, f.RecordID, f.Status, f.Error)
	}
}
