package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"otdops/internal/app"
	"otdops/internal/domain"
	"otdops/internal/repo"
	"otdops/internal/taskgen"
)

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskGetCmd())
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskCompleteCmd())
	t.AddCommand(taskFeedbackCmd())
	t.AddCommand(taskAdviseCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				tasks, err := ws.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "Title", "Node", "Status", "Priority", "Assignee", "Due", "SOP")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.NodeID, t.Status, t.Priority, t.Assignee, t.DueAt, t.SopID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.NodeID, "node", "", "node filter")
	cmd.Flags().StringVar(&f.RuleID, "rule", "", "rule filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	cmd.Flags().BoolVar(&f.OpenOnly, "open", false, "only pending and in-progress tasks")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max tasks")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t, err := ws.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func parseDue(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --due %q (want RFC3339): %w", raw, err)
	}
	return t, nil
}

func taskCreateCmd() *cobra.Command {
	var opts taskgen.CreateOptions
	var priority, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task by hand",
		Long:  "Manual tasks are linked to an SOP like generated ones: --sop, or the configured default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dueAt, err := parseDue(due)
			if err != nil {
				return err
			}
			opts.DueAt = dueAt
			opts.Priority = domain.Priority(priority)
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				opts.ActorID = actorID()
				t, err := ws.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.NodeID, "node", "", "node id")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (high, medium, low)")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.SopID, "sop", "", "SOP id")
	cmd.Flags().StringVar(&due, "due", "", "due time (RFC3339)")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var status, title, priority, assignee, description, due, rootCause, comment string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit or transition a task",
		Long:  "Statuses only move forward: pending -> in_progress -> completed. Completing needs --root-cause.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := taskgen.UpdateOptions{ID: args[0]}
			flags := cmd.Flags()
			if flags.Changed("status") {
				s := domain.TaskStatus(status)
				opts.Status = &s
			}
			if flags.Changed("title") {
				opts.Title = &title
			}
			if flags.Changed("priority") {
				p := domain.Priority(priority)
				opts.Priority = &p
			}
			if flags.Changed("assignee") {
				opts.Assignee = &assignee
			}
			if flags.Changed("description") {
				opts.Description = &description
			}
			if flags.Changed("due") {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				opts.DueAt = &d
			}
			if rootCause != "" || comment != "" {
				opts.Feedback = &domain.Feedback{RootCause: rootCause, Comment: comment}
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				opts.ActorID = actorID()
				t, err := ws.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due time (RFC3339)")
	cmd.Flags().StringVar(&rootCause, "root-cause", "", "root cause, required to complete")
	cmd.Flags().StringVar(&comment, "comment", "", "feedback comment")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var rootCause, comment string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a task with root-cause feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var fb *domain.Feedback
				if rootCause != "" || comment != "" {
					fb = &domain.Feedback{RootCause: rootCause, Comment: comment}
				}
				t, err := ws.Engine.CompleteTask(ctx, args[0], fb, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&rootCause, "root-cause", "", "root cause from the catalog")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	return cmd
}

func taskFeedbackCmd() *cobra.Command {
	var fb domain.Feedback
	cmd := &cobra.Command{
		Use:   "feedback <id>",
		Short: "Replace the feedback of a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				t, err := ws.Engine.RecordFeedback(ctx, args[0], fb, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&fb.RootCause, "root-cause", "", "root cause from the catalog")
	cmd.Flags().StringVar(&fb.Comment, "comment", "", "comment")
	return cmd
}

func taskAdviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advise <id>",
		Short: "Ask the advisory service for an SOP checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.AdviseTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printAdvice(res.Available, res.Reason, res.Text, res)
			})
		},
	}
}
