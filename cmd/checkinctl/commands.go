package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"checkinsync/internal/events"
	"checkinsync/internal/export"
	"checkinsync/internal/models"
	"checkinsync/internal/network"
	"checkinsync/internal/remote"
	"checkinsync/internal/worker"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func enqueueCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "enqueue <target-hash>",
		Short: "Record a check-in for later delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				intent, err := e.store.Enqueue(ctx, args[0], eventID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(intent)
				}
				fmt.Printf("queued %s\n", intent.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	return cmd
}

func listCmd() *cobra.Command {
	var unsynced bool
	var eventID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued check-ins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				var (
					intents []*models.CheckInIntent
					err     error
				)
				switch {
				case eventID != "":
					intents, err = e.store.ListByEvent(ctx, eventID)
				case unsynced:
					intents, err = e.store.ListUnsynced(ctx)
				default:
					intents, err = e.store.ListAll(ctx)
				}
				if err != nil {
					return err
				}
				if unsynced && eventID != "" {
					intents = onlyUnsynced(intents)
				}
				if jsonOutput {
					return printJSON(intents)
				}
				renderIntents(intents, e.cfg.Sync.MaxAttempts)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unsynced, "unsynced", false, "only intents not yet delivered")
	cmd.Flags().StringVar(&eventID, "event", "", "event id filter")
	return cmd
}

func onlyUnsynced(intents []*models.CheckInIntent) []*models.CheckInIntent {
	out := intents[:0]
	for _, in := range intents {
		if !in.Synced {
			out = append(out, in)
		}
	}
	return out
}

func renderIntents(intents []*models.CheckInIntent, maxAttempts int) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Target", "Event", "Created", "State", "Attempts", "Last error"})
	for _, in := range intents {
		lastErr := ""
		if in.LastError != nil {
			lastErr = *in.LastError
		}
		tw.AppendRow(table.Row{
			in.ID,
			in.TargetHash,
			in.EventID,
			in.CreatedAt.Local().Format(time.DateTime),
			in.State(maxAttempts),
			fmt.Sprintf("%d/%d", in.AttemptCount, maxAttempts),
			lastErr,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "Total", len(intents)})
	tw.Render()
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queued check-in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				intent, err := e.store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(intent)
				}
				renderIntents([]*models.CheckInIntent{intent}, e.cfg.Sync.MaxAttempts)
				return nil
			})
		},
	}
}

func countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count queued check-ins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				counts, err := e.store.Count(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(counts)
				}
				fmt.Printf("total: %d\nunsynced: %d\n", counts.Total, counts.Unsynced)
				return nil
			})
		},
	}
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete delivered check-ins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				removed, err := e.store.PurgeSynced(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("purged %d\n", removed)
				return nil
			})
		},
	}
}

// newOrchestrator wires a one-shot orchestrator. Connectivity is decided by a
// single health probe of the check-in service.
func newOrchestrator(ctx context.Context, e *env) *worker.Orchestrator {
	client := remote.NewClient(e.cfg.Remote.BaseURL, e.cfg.Remote.APIKey, e.cfg.Remote.Timeout)
	client.UseMemoryCache(e.cfg.Remote.StateCacheTTL)

	monitor := network.NewMonitor(false, e.logger)
	pingCtx, cancel := context.WithTimeout(ctx, e.cfg.Network.ProbeTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		e.logger.Warn().Err(err).Msg("check-in service unreachable")
	} else {
		monitor.SetOnline(true)
	}

	orch := worker.NewOrchestrator(e.store, client, events.NewNotifier(e.logger), worker.RetryPolicy{
		MaxAttempts:    e.cfg.Sync.MaxAttempts,
		SubmitDelay:    e.cfg.Sync.SubmitDelay,
		InitialBackoff: e.cfg.Sync.InitialBackoff,
		MaxBackoff:     e.cfg.Sync.MaxBackoff,
		BackoffFactor:  e.cfg.Sync.BackoffFactor,
	}, e.logger)
	orch.UseDiagnostics(e.db)
	orch.UseMonitor(monitor)
	if e.cfg.Remote.PreflightLookup {
		orch.UsePreflight(client)
	}
	return orch
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				orch := newOrchestrator(ctx, e)
				ran := orch.TriggerSync(ctx, models.TriggerManual)
				status := orch.RefreshStatus(ctx)
				if jsonOutput {
					return printJSON(map[string]any{"ran": ran, "status": status})
				}
				if !ran {
					fmt.Println("sync skipped: offline or another pass is running")
				}
				fmt.Printf("pending: %d\nfailed: %d\n", status.PendingCount, status.FailedCount)
				if status.LastError != "" {
					fmt.Printf("last error: %s\n", status.LastError)
				}
				return nil
			})
		},
	}
}

func resyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync <id>",
		Short: "Submit one check-in regardless of its attempt count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				outcome, err := newOrchestrator(ctx, e).ResyncIntent(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(outcome)
				}
				if outcome.Success {
					fmt.Printf("synced %s (%s)\n", outcome.ID, outcome.Resolution)
					return nil
				}
				msg := ""
				if outcome.Error != nil {
					msg = outcome.Error.Error()
				}
				fmt.Printf("not synced %s: %s\n", outcome.ID, msg)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent sync passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				entries, err := e.db.RecentSyncLog(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Pass", "Kind", "Trigger", "Processed", "Synced", "Failed", "Message"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{
						entry.CreatedAt.Local().Format(time.DateTime),
						entry.PassID,
						entry.Kind,
						entry.Trigger,
						entry.Processed,
						entry.Synced,
						entry.Failed,
						entry.Message,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", models.DefaultSyncLogLimit, "number of entries")
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the queue to an xlsx report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				intents, err := e.store.ListAll(ctx)
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				if err := export.WriteQueueReport(f, intents, e.cfg.Sync.MaxAttempts, time.Now()); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("exported %d intents to %s\n", len(intents), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "checkin_queue.xlsx", "output file")
	return cmd
}
