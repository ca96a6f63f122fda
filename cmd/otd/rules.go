package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"otdops/internal/app"
	"otdops/internal/domain"
	"otdops/internal/engine"
	"otdops/internal/rules"
)

// parseMetricFlag reads "name=value" or "name=value@unit". Non-numeric values become text metrics.
func parseMetricFlag(raw string) (engine.MetricInput, error) {
	name, rest, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return engine.MetricInput{}, fmt.Errorf("invalid metric %q (want name=value[@unit])", raw)
	}
	value, unit, _ := strings.Cut(rest, "@")
	in := engine.MetricInput{Name: name, Unit: strings.TrimSpace(unit)}
	value = strings.TrimSpace(value)
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		in.Value = &f
	} else {
		in.Text = value
	}
	return in, nil
}

func ruleCmd() *cobra.Command {
	r := &cobra.Command{Use: "rule", Short: "Manage alert rules"}
	r.AddCommand(ruleListCmd())
	r.AddCommand(ruleCreateCmd())
	r.AddCommand(ruleUpdateCmd())
	r.AddCommand(ruleDeleteCmd())
	r.AddCommand(ruleTemplatesCmd())
	r.AddCommand(ruleApplyCmd())
	return r
}

func printRules(items []domain.Rule) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Node", "Condition", "Severity", "SOP", "Enabled")
	for _, r := range items {
		cond := fmt.Sprintf("%s %s %g", r.Metric, r.Operator, r.Threshold)
		tw.AppendRow(table.Row{r.ID, r.NodeID, cond, r.Severity, r.SopID, r.Enabled})
	}
	tw.Render()
	return nil
}

func ruleListCmd() *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListRules(ctx, nodeID)
				if err != nil {
					return err
				}
				return printRules(items)
			})
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "node id filter")
	return cmd
}

func ruleCreateCmd() *cobra.Command {
	var in engine.RuleInput
	var operator, severity string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		Long:  "A rule compares one numeric metric of one node against a threshold. Severity critical or warning; anything else counts as critical for node status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Operator = domain.Operator(operator)
			in.Severity = domain.Severity(severity)
			if disabled {
				enabled := false
				in.Enabled = &enabled
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				in.ActorID = actorID()
				r, err := ws.Engine.CreateRule(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "rule id (generated when empty)")
	cmd.Flags().StringVar(&in.NodeID, "node", "", "node id")
	cmd.Flags().StringVar(&in.Metric, "metric", "", "metric name")
	cmd.Flags().StringVar(&operator, "op", ">", "operator (>, <, =, >=, <=)")
	cmd.Flags().Float64Var(&in.Threshold, "threshold", 0, "threshold")
	cmd.Flags().StringVar(&severity, "severity", "", "severity (critical, warning)")
	cmd.Flags().StringVar(&in.TriggerAction, "action", "", "trigger action, used as the task title")
	cmd.Flags().StringVar(&in.TargetRole, "role", "", "target role, used as the task assignee")
	cmd.Flags().StringVar(&in.SopID, "sop", "", "SOP id linked to generated tasks")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the rule disabled")
	return cmd
}

func ruleUpdateCmd() *cobra.Command {
	var metric, operator, severity, action, role, sopID string
	var threshold float64
	var enabled bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.RulePatch
			flags := cmd.Flags()
			if flags.Changed("metric") {
				patch.Metric = &metric
			}
			if flags.Changed("op") {
				op := domain.Operator(operator)
				patch.Operator = &op
			}
			if flags.Changed("threshold") {
				patch.Threshold = &threshold
			}
			if flags.Changed("severity") {
				sev := domain.Severity(severity)
				patch.Severity = &sev
			}
			if flags.Changed("action") {
				patch.TriggerAction = &action
			}
			if flags.Changed("role") {
				patch.TargetRole = &role
			}
			if flags.Changed("sop") {
				patch.SopID = &sopID
			}
			if flags.Changed("enabled") {
				patch.Enabled = &enabled
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				patch.ActorID = actorID()
				r, err := ws.Engine.UpdateRule(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&metric, "metric", "", "metric name")
	cmd.Flags().StringVar(&operator, "op", "", "operator")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "threshold")
	cmd.Flags().StringVar(&severity, "severity", "", "severity")
	cmd.Flags().StringVar(&action, "action", "", "trigger action")
	cmd.Flags().StringVar(&role, "role", "", "target role")
	cmd.Flags().StringVar(&sopID, "sop", "", "SOP id")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable or disable the rule")
	return cmd
}

func ruleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule; its generated tasks are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.DeleteRule(ctx, args[0], actorID()); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"deleted": args[0]})
			})
		},
	}
}

func ruleTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List built-in rule templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := rules.Templates()
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable("ID", "Name", "Condition", "Severity", "Role")
			for _, t := range items {
				tw.AppendRow(table.Row{t.ID, t.Name, fmt.Sprintf("%s %s %g", t.Metric, t.Operator, t.Threshold), t.Severity, t.TargetRole})
			}
			tw.Render()
			return nil
		},
	}
}

func ruleApplyCmd() *cobra.Command {
	var nodeID, ruleID string
	cmd := &cobra.Command{
		Use:   "apply <template-id>",
		Short: "Create a rule on a node from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeID == "" {
				return fmt.Errorf("--node required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r, err := ws.Engine.CreateRuleFromTemplate(ctx, args[0], ruleID, nodeID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "node id")
	cmd.Flags().StringVar(&ruleID, "id", "", "rule id (generated when empty)")
	return cmd
}
