package engine_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"otdops/internal/config"
	"otdops/internal/db"
	"otdops/internal/domain"
	"otdops/internal/engine"
	"otdops/internal/migrate"
	"otdops/internal/repo"
	"otdops/internal/taskgen"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	clock := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	eng := engine.New(conn, cfg, nil).WithClock(func() time.Time { return clock })
	env := testEnv{Engine: eng, Ctx: ctx, Clock: &clock}

	if _, err := eng.PutSOP(ctx, domain.SOP{ID: "sop-1", Title: "Material shortage rapid response", Steps: []string{"Check ERP", "Chase supplier"}}, "tester"); err != nil {
		t.Fatalf("put sop: %v", err)
	}
	if _, err := eng.CreateNode(ctx, engine.NodeCreateOptions{
		ID: "scheduling", Title: "Scheduling", Stage: domain.StageProcess, Position: 1,
		Metrics: []engine.MetricInput{
			{Name: "Backlog Orders", Value: num(30), Unit: "orders", Trend: domain.TrendUp, Leading: true},
			{Name: "On-time Scheduling Rate", Value: num(90), Unit: "%"},
		},
		ActorID: "tester",
	}); err != nil {
		t.Fatalf("create node: %v", err)
	}
	return env
}

func num(v float64) *float64 { return &v }

func backlogRule(sopID string) engine.RuleInput {
	return engine.RuleInput{
		ID: "rule-1", NodeID: "scheduling", Metric: "Backlog Orders", Operator: domain.OpGreater, Threshold: 20,
		TriggerAction: "Create high-priority shortage chase task", TargetRole: "Planning Supervisor", SopID: sopID, ActorID: "tester",
	}
}

func openTasks(t *testing.T, env testEnv) []domain.Task {
	t.Helper()
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{NodeID: "scheduling", OpenOnly: true})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	return tasks
}

func TestSchedulingBacklogScenario(t *testing.T) {
	env := newTestEnv(t)
	in := backlogRule("sop-1")
	in.Severity = domain.SeverityCritical
	if _, err := env.Engine.CreateRule(env.Ctx, in); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	node, _ := env.Engine.GetNode(env.Ctx, "scheduling")
	if node.Status != domain.StatusCritical {
		t.Fatalf("status after rule create = %s, want critical", node.Status)
	}

	report, err := env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{ActorID: "tester"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(report.Triggered) != 1 || report.Triggered[0].Rule.ID != "rule-1" {
		t.Fatalf("expected rule-1 triggered, got %+v", report.Triggered)
	}
	if len(report.Tasks) != 1 || report.Tasks[0].Outcome != "created" {
		t.Fatalf("expected one created task, got %+v", report.Tasks)
	}
	tasks := openTasks(t, env)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 open task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Priority != domain.PriorityHigh {
		t.Fatalf("priority = %s, want high", task.Priority)
	}
	if task.SopID != "sop-1" || task.Status != domain.TaskPending {
		t.Fatalf("unexpected task %+v", task)
	}

	*env.Clock = env.Clock.Add(5 * time.Minute)
	report, err = env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{ActorID: "tester"})
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if report.Tasks[0].Outcome != "refreshed" {
		t.Fatalf("second evaluation outcome = %s, want refreshed", report.Tasks[0].Outcome)
	}
	if got := openTasks(t, env); len(got) != 1 || got[0].ID != task.ID {
		t.Fatalf("dedup broken: %+v", got)
	}

	upd, err := env.Engine.UpsertMetric(env.Ctx, "scheduling", engine.MetricInput{Name: "Backlog Orders", Value: num(15), Trend: domain.TrendDown}, "ingest")
	if err != nil {
		t.Fatalf("upsert metric: %v", err)
	}
	if upd.Node.Status != domain.StatusHealthy {
		t.Fatalf("status after backlog=15 is %s", upd.Node.Status)
	}
	report, err = env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{ActorID: "tester"})
	if err != nil {
		t.Fatalf("third evaluate: %v", err)
	}
	if len(report.Triggered) != 0 {
		t.Fatalf("expected no triggers, got %+v", report.Triggered)
	}
	after := openTasks(t, env)
	if len(after) != 1 || after[0].Status != domain.TaskPending || *after[0].TriggerValue != 30 {
		t.Fatalf("open task must stay untouched: %+v", after)
	}
	if upd.Node.ActiveTasks != 1 {
		t.Fatalf("active tasks = %d, want 1", upd.Node.ActiveTasks)
	}
}

func TestUnflaggedRuleYieldsMediumPriority(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	report, err := env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// the node still goes critical
	if report.Status != domain.StatusCritical {
		t.Fatalf("status = %s, want critical", report.Status)
	}
	tasks := openTasks(t, env)
	if len(tasks) != 1 || tasks[0].Priority != domain.PriorityMedium {
		t.Fatalf("expected medium priority task, got %+v", tasks)
	}
	if tasks[0].DueAt != "2024-01-02T08:00:00Z" {
		t.Fatalf("due = %s, want now+24h", tasks[0].DueAt)
	}
}

func TestDanglingSopRejectedAtTaskCreation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-404")); err != nil {
		t.Fatalf("rule creation must not validate sop lazily: %v", err)
	}
	report, err := env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(report.Tasks) != 1 || report.Tasks[0].Outcome != "failed" {
		t.Fatalf("expected failed task generation, got %+v", report.Tasks)
	}
	if len(openTasks(t, env)) != 0 {
		t.Fatalf("no task may point at a missing sop")
	}

	if _, err := env.Engine.PutSOP(env.Ctx, domain.SOP{ID: "sop-404", Title: "Late SOP"}, "tester"); err != nil {
		t.Fatalf("put sop: %v", err)
	}
	report, err = env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Tasks[0].Outcome != "created" {
		t.Fatalf("expected task once the sop exists, got %+v", report.Tasks)
	}
}

func TestEagerSopValidation(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Rules.ValidateSopOnCreate = true })
	_, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-404"))
	if !errors.Is(err, domain.ErrInvalidSopReference) {
		t.Fatalf("expected InvalidSopReference, got %v", err)
	}
}

func TestRuleCreationInvariants(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertMetric(env.Ctx, "scheduling", engine.MetricInput{Name: "Shift Note", Text: "short-staffed"}, "ingest"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	in := backlogRule("sop-1")
	in.Metric = "Shift Note"
	if _, err := env.Engine.CreateRule(env.Ctx, in); !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("non-numeric metric: got %v", err)
	}
	in = backlogRule("sop-1")
	in.NodeID = "nowhere"
	if _, err := env.Engine.CreateRule(env.Ctx, in); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown node: got %v", err)
	}
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate id: got %v", err)
	}
}

func TestRuleEditsRecomputeStatus(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	warning := domain.SeverityWarning
	if _, err := env.Engine.UpdateRule(env.Ctx, "rule-1", engine.RulePatch{Severity: &warning}); err != nil {
		t.Fatalf("update: %v", err)
	}
	node, _ := env.Engine.GetNode(env.Ctx, "scheduling")
	if node.Status != domain.StatusWarning {
		t.Fatalf("status = %s, want warning", node.Status)
	}
	off := false
	if _, err := env.Engine.UpdateRule(env.Ctx, "rule-1", engine.RulePatch{Enabled: &off}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	node, _ = env.Engine.GetNode(env.Ctx, "scheduling")
	if node.Status != domain.StatusHealthy {
		t.Fatalf("status = %s, want healthy", node.Status)
	}
	if err := env.Engine.DeleteRule(env.Ctx, "rule-1", "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetRule(env.Ctx, "rule-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStaleRuleWarningDoesNotAbort(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.UpsertMetric(env.Ctx, "scheduling", engine.MetricInput{Name: "Backlog Orders", Text: "feed offline"}, "ingest"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	report, err := env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(report.Warnings) != 1 || report.Warnings[0].RuleID != "rule-1" {
		t.Fatalf("expected stale warning, got %+v", report.Warnings)
	}
	if report.Status != domain.StatusHealthy {
		t.Fatalf("status = %s", report.Status)
	}
}

func TestUnknownNode(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.EvaluateNode(env.Ctx, "nowhere", engine.EvaluateOptions{}); !errors.Is(err, domain.ErrUnknownNode) {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := env.Engine.UpsertMetric(env.Ctx, "nowhere", engine.MetricInput{Name: "x", Value: num(1)}, "ingest"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := env.Engine.GetNode(env.Ctx, "nowhere"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
}

func TestNonFiniteMetricRejected(t *testing.T) {
	env := newTestEnv(t)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := env.Engine.UpsertMetric(env.Ctx, "scheduling", engine.MetricInput{Name: "Backlog Orders", Value: num(v)}, "ingest"); err == nil {
			t.Fatalf("upsert %v: expected error", v)
		}
	}
	if _, err := env.Engine.CreateNode(env.Ctx, engine.NodeCreateOptions{
		ID: "packing", Title: "Packing", Metrics: []engine.MetricInput{{Name: "Queue", Value: num(math.NaN())}},
	}); err == nil {
		t.Fatal("create node with NaN metric: expected error")
	}
	node, err := env.Engine.GetNode(env.Ctx, "scheduling")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, m := range node.Metrics {
		if m.Name == "Backlog Orders" && (m.Value == nil || *m.Value != 30) {
			t.Fatalf("backlog changed: %+v", m)
		}
	}
}

func TestDryRunPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	report, err := env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !report.DryRun || len(report.Triggered) != 1 || len(report.Tasks) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(openTasks(t, env)) != 0 {
		t.Fatalf("dry run created tasks")
	}
}

func TestGenerateOnIngest(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Evaluation.GenerateOnIngest = true })
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	upd, err := env.Engine.UpsertMetric(env.Ctx, "scheduling", engine.MetricInput{Name: "Backlog Orders", Value: num(40)}, "ingest")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if upd.Evaluation == nil || len(upd.Evaluation.Tasks) != 1 || upd.Evaluation.Tasks[0].Outcome != "created" {
		t.Fatalf("expected task on ingest, got %+v", upd.Evaluation)
	}
	if upd.Node.ActiveTasks != 1 {
		t.Fatalf("active tasks = %d", upd.Node.ActiveTasks)
	}
}

func TestConcurrentIngestAndEvaluationKeepOneOpenTask(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v float64) {
			defer wg.Done()
			if _, err := env.Engine.UpsertMetric(env.Ctx, "scheduling", engine.MetricInput{Name: "Backlog Orders", Value: num(v)}, "ingest"); err != nil {
				t.Errorf("upsert: %v", err)
			}
		}(float64(25 + i))
		go func() {
			defer wg.Done()
			if _, err := env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{}); err != nil {
				t.Errorf("evaluate: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := len(openTasks(t, env)); n != 1 {
		t.Fatalf("open tasks = %d, want 1", n)
	}
}

func TestCompletionRequiresFeedback(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, taskgen.CreateOptions{Title: "Confirm chip allocation", NodeID: "scheduling", SopID: "sop-1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, nil, "tester"); !errors.Is(err, domain.ErrMissingFeedback) {
		t.Fatalf("expected MissingFeedback, got %v", err)
	}
	done, err := env.Engine.CompleteTask(env.Ctx, task.ID, &domain.Feedback{RootCause: "supply-chain.chip-shortage", Comment: "allocation confirmed"}, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.TaskCompleted || done.Feedback == nil {
		t.Fatalf("unexpected %+v", done)
	}
	assignee := "someone else"
	if _, err := env.Engine.UpdateTask(env.Ctx, taskgen.UpdateOptions{ID: task.ID, Assignee: &assignee}); !errors.Is(err, domain.ErrTaskImmutable) {
		t.Fatalf("expected immutable, got %v", err)
	}
	if _, err := env.Engine.RecordFeedback(env.Ctx, task.ID, domain.Feedback{RootCause: "other", Comment: "reclassified"}, "lead"); err != nil {
		t.Fatalf("feedback: %v", err)
	}
}

func TestEvaluateAll(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateNode(env.Ctx, engine.NodeCreateOptions{ID: "assembly", Title: "Assembly", Position: 2,
		Metrics: []engine.MetricInput{{Name: "First Pass Yield", Value: num(91)}}}); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CreateRule(env.Ctx, engine.RuleInput{ID: "rule-q", NodeID: "assembly", Metric: "First Pass Yield",
		Operator: domain.OpLess, Threshold: 95, Severity: domain.SeverityWarning, TriggerAction: "Quality hold", TargetRole: "Quality Manager", SopID: "sop-1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	reports, err := env.Engine.EvaluateAll(env.Ctx, 2, engine.EvaluateOptions{})
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d", len(reports))
	}
	sum, err := env.Engine.Summary(env.Ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.NodesByStatus[domain.StatusCritical] != 1 || sum.NodesByStatus[domain.StatusWarning] != 1 {
		t.Fatalf("nodes by status = %+v", sum.NodesByStatus)
	}
	if sum.OpenByPriority[domain.PriorityMedium] != 2 {
		t.Fatalf("open by priority = %+v", sum.OpenByPriority)
	}

	*env.Clock = env.Clock.Add(48 * time.Hour)
	sum, _ = env.Engine.Summary(env.Ctx)
	if len(sum.OverdueTasks) != 2 {
		t.Fatalf("overdue = %d", len(sum.OverdueTasks))
	}
}

func TestDashboardHeadlineKPIs(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateNode(env.Ctx, engine.NodeCreateOptions{ID: "packing", Title: "Packing", Position: 2}); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if _, err := env.Engine.CreateRule(env.Ctx, backlogRule("sop-1")); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	manual, err := env.Engine.CreateTask(env.Ctx, taskgen.CreateOptions{Title: "Recount cartons", NodeID: "packing", SopID: "sop-1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.EvaluateNode(env.Ctx, "scheduling", engine.EvaluateOptions{}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, taskgen.CreateOptions{Title: "Re-sequence orders", NodeID: "scheduling", SopID: "sop-1", ActorID: "tester"}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	sum, err := env.Engine.Summary(env.Ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.HealthyShare != 0.5 || sum.ActiveAlerts != 3 || sum.AlertHotspot != "scheduling" || sum.SOPClosureRate != 0 {
		t.Fatalf("unexpected kpis: %+v", sum)
	}

	if _, err := env.Engine.CompleteTask(env.Ctx, manual.ID, &domain.Feedback{RootCause: "other"}, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	sum, _ = env.Engine.Summary(env.Ctx)
	if sum.ActiveAlerts != 2 || sum.SOPClosureRate != 1.0/3 {
		t.Fatalf("after completion: %+v", sum)
	}
}

func TestAdvisoryUnavailableByDefault(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.AnalyzeNode(env.Ctx, "scheduling")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Available || res.Reason == "" {
		t.Fatalf("expected unavailable result, got %+v", res)
	}
	if _, err := env.Engine.AdviseTask(env.Ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("advise missing task: %v", err)
	}
}
