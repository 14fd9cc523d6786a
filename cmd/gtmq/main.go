package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gtmq/internal/app"
	"gtmq/internal/config"
	"gtmq/internal/db"
	"gtmq/internal/domain"
	"gtmq/internal/engine"
	"gtmq/internal/executor"
	"gtmq/internal/guard"
	"gtmq/internal/migrate"
	"gtmq/internal/repo"
	"gtmq/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gtmq",
	Short: "gtmq CLI",
	Long: `gtmq turns go-to-market signals into a priority-ranked action queue.
Core concepts:
- Workspace: your .gtmq directory with only the database; configs are stored in the DB and imported explicitly.
- Signals: events from collectors (crm, email, calendar, manual, social), deduplicated per entity and time bucket.
- Queue items: recommended next actions, scored 0-100 from revenue impact, urgency, effort, and strategic value.
- Lifecycle: pending -> accepted -> executed, with dismiss and snooze exits.
- Guards: kill switch, per-recipient and global rate limits, and an idempotency ledger in front of every execution.
- Rollback: reversible actions return a one-time token redeemable with 'gtmq rollback'.
- Audit: every mutation lands in an append-only log, view with 'gtmq audit tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GTMQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("queue", "", "queue name (overrides the single configured queue)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("queue", rootCmd.PersistentFlags().Lookup("queue"))
}

func registerCommands() {
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(executeCmd())
	rootCmd.AddCommand(rollbackCmd())
	rootCmd.AddCommand(guardCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(operatorCmd())
	rootCmd.AddCommand(serveCmd())
}

func ingestCmd() *cobra.Command {
	var raw domain.RawEvent
	var payloadJSON string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &raw.Payload); err != nil {
					return fmt.Errorf("invalid --payload-json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Ingest(ctx, viper.GetString("actor-id"), raw)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.Created {
					fmt.Printf("Duplicate signal, dedup key %s\n", res.Signal.DedupKey)
				} else {
					fmt.Printf("Signal %s ingested\n", res.Signal.ID)
				}
				if res.Item.ID != "" {
					fmt.Printf("Queue item %s (%s) score %.1f\n", res.Item.ID, res.Item.Title, res.Item.PriorityScore)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&raw.Source, "source", "manual", "signal source")
	cmd.Flags().StringVar(&raw.EventType, "event-type", "", "event type")
	cmd.Flags().StringVar(&raw.EntityID, "entity-id", "", "entity id (account, contact, deal)")
	cmd.Flags().StringVar(&raw.DetectedAt, "detected-at", "", "detection time, RFC3339 (defaults to now)")
	cmd.Flags().StringVar(&payloadJSON, "payload-json", "", "scoring context JSON")
	_ = cmd.MarkFlagRequired("event-type")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func signalCmd() *cobra.Command {
	sig := &cobra.Command{Use: "signal", Short: "Inspect signals"}
	sig.AddCommand(signalListCmd())
	sig.AddCommand(signalGetCmd())
	return sig
}

func signalListCmd() *cobra.Command {
	var f repo.SignalFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSignals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Source", "Event", "Entity", "Detected", "Processed"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Source, s.EventType, s.EntityID, s.DetectedAt, s.Processed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Source, "source", "", "source filter")
	cmd.Flags().StringVar(&f.EventType, "event-type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max signals")
	return cmd
}

func signalGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSignal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "queue",
		Short: "Manage the action queue",
		Long:  "Queue items are recommended next actions ranked by priority score. They flow pending -> accepted -> executed; dismiss and snooze are the exits.",
	}
	q.AddCommand(queueListCmd())
	q.AddCommand(queueShowCmd())
	q.AddCommand(queueTransitionCmd("accept", domain.StatusAccepted, "Accept a queue item"))
	q.AddCommand(queueTransitionCmd("dismiss", domain.StatusDismissed, "Dismiss a queue item"))
	q.AddCommand(queueSnoozeCmd())
	q.AddCommand(queueRescoreCmd())
	q.AddCommand(queueWakeCmd())
	return q
}

func queueListCmd() *cobra.Command {
	var f repo.QueueFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.WakeSnoozed(ctx, viper.GetString("actor-id")); err != nil {
					return err
				}
				items, err := e.Repo.ListQueueItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Score", "Status", "Action", "Title"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, fmt.Sprintf("%.1f", it.PriorityScore), it.Status, it.ActionType, it.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ActionType, "action-type", "", "action type filter")
	cmd.Flags().Float64Var(&f.MinScore, "min-score", 0, "minimum priority score")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max items")
	return cmd
}

func queueShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a queue item with its drivers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Repo.GetQueueItem(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(it)
				}
				fmt.Printf("%s [%s] %.1f\n%s\n", it.ID, it.Status, it.PriorityScore, it.Title)
				if it.Description != "" {
					fmt.Println(it.Description)
				}
				fmt.Println("Drivers:")
				for name, d := range it.Drivers {
					fmt.Printf("  %-16s %6.1f x %.2f  %s\n", name, d.Subscore, d.Weight, d.Reason)
				}
				return nil
			})
		},
	}
	return cmd
}

func queueTransitionCmd(use, target, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Transition(ctx, args[0], target, viper.GetString("actor-id"), nil)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func queueSnoozeCmd() *cobra.Command {
	var until string
	cmd := &cobra.Command{
		Use:   "snooze <id>",
		Short: "Snooze a queue item until a wake time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, until)
			if err != nil {
				return fmt.Errorf("--until must be RFC3339: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Transition(ctx, args[0], domain.StatusSnoozed, viper.GetString("actor-id"), &t)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "wake time, RFC3339")
	_ = cmd.MarkFlagRequired("until")
	return cmd
}

func queueRescoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescore <id>",
		Short: "Recompute the priority score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Rescore(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func queueWakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wake",
		Short: "Return expired snoozes to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.WakeSnoozed(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"woken": ids})
				}
				fmt.Printf("Woke %d item(s)\n", len(ids))
				return nil
			})
		},
	}
	return cmd
}

func executeCmd() *cobra.Command {
	var dryRun bool
	var contextJSON, idemKey string
	cmd := &cobra.Command{
		Use:   "execute <item-id>",
		Short: "Execute the item's recommended action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var overrides map[string]any
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &overrides); err != nil {
					return fmt.Errorf("invalid --context-json: %w", err)
				}
			}
			return withStack(cmd.Context(), func(ctx context.Context, e engine.Engine, exec *executor.Executor) error {
				item, err := e.Repo.GetQueueItem(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := exec.Execute(ctx, domain.ActionRequest{
					QueueItemID:    item.ID,
					ActionType:     item.ActionType,
					Context:        overrides,
					DryRun:         dryRun,
					Operator:       viper.GetString("actor-id"),
					IdempotencyKey: idemKey,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s", res.Status)
				if res.ExternalRef != "" {
					fmt.Printf(" ref=%s", res.ExternalRef)
				}
				if res.RollbackToken != "" {
					fmt.Printf(" rollback=%s", res.RollbackToken)
				}
				if res.Message != "" {
					fmt.Printf(" (%s)", res.Message)
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without executing")
	cmd.Flags().StringVar(&contextJSON, "context-json", "", "context overrides JSON")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "explicit idempotency key")
	return cmd
}

func rollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <token>",
		Short: "Redeem a rollback token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), func(ctx context.Context, e engine.Engine, exec *executor.Executor) error {
				ok, err := exec.Rollback(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]bool{"rolled_back": ok})
				}
				if ok {
					fmt.Println("rolled back")
				} else {
					fmt.Println("not rolled back (unknown, used, or irreversible token)")
				}
				return nil
			})
		},
	}
	return cmd
}

func guardCmd() *cobra.Command {
	g := &cobra.Command{
		Use:   "guard",
		Short: "Guard controls",
		Long:  "Guards gate every execution: the kill switch stops everything, rate limits bound outreach per recipient and globally, and the idempotency ledger enforces at-most-once.",
	}
	g.AddCommand(guardStatusCmd())
	g.AddCommand(guardKillSwitchCmd())
	return g
}

func guardStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show guard state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				row, err := e.Repo.GetGuardState(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(row)
				}
				state := "inactive"
				if row.KillSwitchActive {
					state = "ACTIVE"
				}
				fmt.Printf("Kill switch: %s\n", state)
				if row.Reason != "" {
					fmt.Printf("Reason: %s\n", row.Reason)
				}
				if row.UpdatedBy != "" {
					fmt.Printf("Last change: %s by %s\n", row.UpdatedAt, row.UpdatedBy)
				}
				return nil
			})
		},
	}
	return cmd
}

func guardKillSwitchCmd() *cobra.Command {
	var on, off bool
	var reason string
	cmd := &cobra.Command{
		Use:   "kill-switch",
		Short: "Toggle the execution kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if on == off {
				return fmt.Errorf("exactly one of --on or --off is required")
			}
			actor := viper.GetString("actor-id")
			return withStack(cmd.Context(), func(ctx context.Context, e engine.Engine, exec *executor.Executor) error {
				if !e.Config.IsAdmin(actor) {
					if op, err := e.Repo.GetOperator(ctx, actor); err != nil || op.Role != "admin" {
						return fmt.Errorf("actor %s is not an admin", actor)
					}
				}
				if err := exec.State.SetKillSwitch(ctx, on, reason, actor); err != nil {
					return err
				}
				fmt.Printf("kill switch %s\n", map[bool]string{true: "activated", false: "deactivated"}[on])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&on, "on", false, "activate")
	cmd.Flags().BoolVar(&off, "off", false, "deactivate")
	cmd.Flags().StringVar(&reason, "reason", "", "why the switch was toggled")
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Audit log"}
	a.AddCommand(auditTailCmd())
	return a
}

func auditTailCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListAuditEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Actor", "Resource", "Action", "Status"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Actor, ev.Resource, ev.Action, ev.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Actor, "actor", "", "actor filter")
	cmd.Flags().StringVar(&f.Resource, "resource", "", "resource filter")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().Int64Var(&f.Cursor, "before", 0, "only events older than this id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect queue config",
		Long:  "Config is the rulebook (stored in DB): scoring weights, dedup buckets, playbooks, guard budgets, and action handlers. Import from gtmq.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configExportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import queue config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				name := cfg.Queue.Name
				if name == "" {
					name = e.Config.Queue.Name
				}
				if err := e.Repo.UpsertConfig(ctx, name, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configExportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export queue config to YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				if filePath == "" {
					fmt.Print(string(data))
					return nil
				}
				return os.WriteFile(filePath, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "output path (stdout if omitted)")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountItemsByStatus(ctx)
				if err != nil {
					return err
				}
				guardRow, err := e.Repo.GetGuardState(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"queue":              e.Config.Queue.Name,
					"item_counts":        counts,
					"kill_switch_active": guardRow.KillSwitchActive,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Queue: %s\n", e.Config.Queue.Name)
				if guardRow.KillSwitchActive {
					fmt.Println("Kill switch: ACTIVE")
				}
				fmt.Println("Items:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name, rawKey string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			if rawKey == "" {
				return fmt.Errorf("--key required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:      fmt.Sprintf("key-%d", time.Now().UnixNano()),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(rawKey),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(key)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&rawKey, "key", "", "raw key value; only its hash is stored")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func operatorCmd() *cobra.Command {
	op := &cobra.Command{Use: "operator", Short: "Manage operators"}
	op.AddCommand(operatorListCmd())
	op.AddCommand(operatorSetRoleCmd())
	return op
}

func operatorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ops, err := r.ListOperators(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(ops)
			})
		},
	}
	return cmd
}

func operatorSetRoleCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "set-role <actor-id>",
		Short: "Set operator role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "admin" && role != "operator" {
				return fmt.Errorf("--role must be admin or operator")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetOperatorRole(ctx, args[0], role)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role (admin, operator)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GTMQ_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GTMQ_JWT_SECRET is required for bearer auth")
			}
			return withStack(cmd.Context(), func(ctx context.Context, e engine.Engine, exec *executor.Executor) error {
				handler, err := server.New(server.Config{
					Engine:   e,
					Exec:     exec,
					Guard:    exec.State,
					Limits:   exec.Limits,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go e.RunSnoozeSweeper(ctx, 30*time.Second, "system", func(err error) {
					fmt.Fprintf(os.Stderr, "snooze sweep: %v\n", err)
				})
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving gtmq API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveQueueAndConfig(ctx, viper.GetString("queue"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withStack(ctx context.Context, fn func(context.Context, engine.Engine, *executor.Executor) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveQueueAndConfig(ctx, viper.GetString("queue"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	state := guard.NewState(conn)
	if err := state.Load(ctx); err != nil {
		return err
	}
	handlers, err := executor.RegistryFromConfig(cfg)
	if err != nil {
		return err
	}
	exec := executor.New(conn, cfg, state, guard.NewRateLimiter(cfg), handlers)
	return fn(ctx, e, exec)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
