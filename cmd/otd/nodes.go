package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"otdops/internal/app"
	"otdops/internal/db"
	"otdops/internal/domain"
	"otdops/internal/engine"
	"otdops/internal/seed"
)

func initCmd() *cobra.Command {
	var withSeed, force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and default config",
		Long:  "Creates .otdops/ with a migrated database and writes otdops.yml. --seed loads the demo flow (SOPs, nodes, rules, tasks).",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path, err := app.InitConfig(workspace, force)
			if err != nil && !strings.Contains(err.Error(), "already exists") {
				return err
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "keeping", path)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				out := map[string]any{"workspace": workspace, "config": path, "db": db.Path(workspace)}
				if withSeed {
					f, err := seed.Default()
					if err != nil {
						return err
					}
					st, err := seed.Apply(ctx, ws.Engine, f, actorID())
					if err != nil {
						return err
					}
					out["seeded"] = st
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().BoolVar(&withSeed, "seed", false, "load the demo fixture")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing otdops.yml")
	return cmd
}

func nodeCmd() *cobra.Command {
	n := &cobra.Command{Use: "node", Short: "Manage process nodes"}
	n.AddCommand(nodeListCmd())
	n.AddCommand(nodeGetCmd())
	n.AddCommand(nodeCreateCmd())
	n.AddCommand(nodeDeleteCmd())
	return n
}

func nodeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List nodes in flow order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListNodes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Stage", "Status", "Metrics", "Active tasks")
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Title, n.Stage, n.Status, len(n.Metrics), n.ActiveTasks})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func nodeGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a node with its metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				n, err := ws.Engine.GetNode(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(n)
				}
				fmt.Printf("Node: %s (%s) stage=%s status=%s active_tasks=%d\n", n.ID, n.Title, n.Stage, n.Status, n.ActiveTasks)
				tw := newTable("Metric", "Value", "Unit", "Trend", "Leading")
				for _, m := range n.Metrics {
					value := m.Text
					if m.Value != nil {
						value = fmt.Sprintf("%g", *m.Value)
					}
					tw.AppendRow(table.Row{m.Name, value, m.Unit, m.Trend, m.Leading})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func nodeCreateCmd() *cobra.Command {
	var opts engine.NodeCreateOptions
	var stage string
	var metrics []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.Title) == "" {
				return fmt.Errorf("--title required")
			}
			opts.Stage = domain.NodeStage(stage)
			for _, raw := range metrics {
				m, err := parseMetricFlag(raw)
				if err != nil {
					return err
				}
				opts.Metrics = append(opts.Metrics, m)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				opts.ActorID = actorID()
				n, err := ws.Engine.CreateNode(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "node id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "node title")
	cmd.Flags().StringVar(&stage, "stage", "process", "stage (start, process, end)")
	cmd.Flags().IntVar(&opts.Position, "position", 0, "position in the flow")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringArrayVar(&metrics, "metric", nil, "initial metric as name=value[unit] (repeatable)")
	return cmd
}

func nodeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a node with its rules and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.DeleteNode(ctx, args[0], actorID()); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"deleted": args[0]})
			})
		},
	}
}

func metricCmd() *cobra.Command {
	m := &cobra.Command{Use: "metric", Short: "Ingest metric readings"}
	m.AddCommand(metricSetCmd())
	return m
}

func metricSetCmd() *cobra.Command {
	var in engine.MetricInput
	var value float64
	var trend string
	cmd := &cobra.Command{
		Use:   "set <node-id> <metric>",
		Short: "Upsert a metric and recompute the node status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[1]
			in.Trend = domain.Trend(trend)
			if cmd.Flags().Changed("value") {
				in.Value = &value
			}
			if in.Value == nil && in.Text == "" {
				return fmt.Errorf("--value or --text required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				upd, err := ws.Engine.UpsertMetric(ctx, args[0], in, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(upd)
				}
				fmt.Printf("%s: %s\n", upd.Node.ID, upd.Node.Status)
				if upd.Evaluation != nil {
					printTaskResults(upd.Evaluation.Tasks)
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "numeric value")
	cmd.Flags().StringVar(&in.Text, "text", "", "textual value for non-numeric metrics")
	cmd.Flags().StringVar(&in.Unit, "unit", "", "unit")
	cmd.Flags().StringVar(&trend, "trend", "", "trend (up, down, stable)")
	cmd.Flags().BoolVar(&in.Leading, "leading", false, "leading indicator")
	return cmd
}

func sopCmd() *cobra.Command {
	s := &cobra.Command{Use: "sop", Short: "Manage standard operating procedures"}
	s.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List SOPs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListSOPs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Steps")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, len(s.Steps)})
				}
				tw.Render()
				return nil
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show an SOP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				sop, err := ws.Engine.ResolveSOP(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(sop)
			})
		},
	})
	s.AddCommand(sopPutCmd())
	return s
}

func sopPutCmd() *cobra.Command {
	var sop domain.SOP
	cmd := &cobra.Command{
		Use:   "put <id>",
		Short: "Create or replace an SOP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sop.ID = args[0]
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				out, err := ws.Engine.PutSOP(ctx, sop, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&sop.Title, "title", "", "title")
	cmd.Flags().StringVar(&sop.Content, "content", "", "free-form content")
	cmd.Flags().StringArrayVar(&sop.Steps, "step", nil, "checklist step (repeatable)")
	return cmd
}

func evalCmd() *cobra.Command {
	var all, dryRun bool
	var parallelism int
	cmd := &cobra.Command{
		Use:   "eval [node-id]",
		Short: "Evaluate rules and generate tasks",
		Long:  "Evaluates one node, or every node with --all. --dry-run reports triggers without writing anything.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass a node id or --all")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				opts := engine.EvaluateOptions{DryRun: dryRun, ActorID: actorID()}
				var reports []engine.EvaluationReport
				var evalErr error
				if all {
					if parallelism <= 0 {
						parallelism = ws.Config.Evaluation.Parallelism
					}
					reports, evalErr = ws.Engine.EvaluateAll(ctx, parallelism, opts)
				} else {
					r, err := ws.Engine.EvaluateNode(ctx, args[0], opts)
					if err != nil {
						return err
					}
					reports = append(reports, r)
				}
				if viper.GetBool("json") {
					if err := printJSON(reports); err != nil {
						return err
					}
					return evalErr
				}
				tw := newTable("Node", "Previous", "Status", "Triggered", "Warnings", "Tasks")
				var results []engine.TaskResult
				for _, r := range reports {
					tw.AppendRow(table.Row{r.NodeID, r.PreviousStatus, r.Status, len(r.Triggered), len(r.Warnings), len(r.Tasks)})
					results = append(results, r.Tasks...)
				}
				tw.Render()
				printTaskResults(results)
				return evalErr
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "evaluate every node")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without persisting")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "concurrent node evaluations (default from config)")
	return cmd
}

func printTaskResults(results []engine.TaskResult) {
	if len(results) == 0 {
		return
	}
	tw := newTable("Rule", "Task", "Outcome", "Error")
	for _, r := range results {
		tw.AppendRow(table.Row{r.RuleID, r.TaskID, r.Outcome, r.Error})
	}
	tw.Render()
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <node-id>",
		Short: "Ask the advisory service for a root-cause analysis of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.AnalyzeNode(ctx, args[0])
				if err != nil {
					return err
				}
				return printAdvice(res.Available, res.Reason, res.Text, res)
			})
		},
	}
}

func printAdvice(available bool, reason, text string, raw any) error {
	if viper.GetBool("json") {
		return printJSON(raw)
	}
	if !available {
		fmt.Println("advisory unavailable:", reason)
		return nil
	}
	fmt.Println(text)
	return nil
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show node health and the open task backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				s, err := ws.Engine.Summary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Nodes: %d (healthy %d, warning %d, critical %d)\n", s.Nodes,
					s.NodesByStatus[domain.StatusHealthy], s.NodesByStatus[domain.StatusWarning], s.NodesByStatus[domain.StatusCritical])
				fmt.Printf("Tasks: pending %d, in progress %d, completed %d\n",
					s.TasksByStatus[domain.TaskPending], s.TasksByStatus[domain.TaskInProgress], s.TasksByStatus[domain.TaskCompleted])
				fmt.Printf("Open by priority: high %d, medium %d, low %d\n",
					s.OpenByPriority[domain.PriorityHigh], s.OpenByPriority[domain.PriorityMedium], s.OpenByPriority[domain.PriorityLow])
				fmt.Printf("Healthy nodes: %.0f%%  SOP closure: %.0f%%  Active alerts: %d", s.HealthyShare*100, s.SOPClosureRate*100, s.ActiveAlerts)
				if s.AlertHotspot != "" {
					fmt.Printf(" (mostly on %s)", s.AlertHotspot)
				}
				fmt.Println()
				if len(s.OverdueTasks) > 0 {
					fmt.Println("Overdue:")
					tw := newTable("ID", "Title", "Node", "Due", "Assignee")
					for _, t := range s.OverdueTasks {
						tw.AppendRow(table.Row{t.ID, t.Title, t.NodeID, t.DueAt, t.Assignee})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
}
