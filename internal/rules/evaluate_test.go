package rules

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otdops/internal/domain"
)

func num(v float64) *float64 { return &v }

func schedulingNode(backlog float64) domain.ProcessNode {
	return domain.ProcessNode{
		ID:    "scheduling",
		Title: "Scheduling",
		Stage: domain.StageProcess,
		Metrics: []domain.Metric{
			{Name: "Backlog Orders", Value: num(backlog), Unit: "orders", Trend: domain.TrendUp, Leading: true},
			{Name: "On-time Scheduling Rate", Value: num(82), Unit: "%", Trend: domain.TrendDown},
			{Name: "Shift Note", Text: "night shift short-staffed"},
		},
	}
}

func rule(id, metric string, op domain.Operator, threshold float64, sev domain.Severity) domain.Rule {
	return domain.Rule{ID: id, NodeID: "scheduling", Metric: metric, Operator: op, Threshold: threshold, Severity: sev,
		TriggerAction: "act", TargetRole: "role", Enabled: true}
}

func TestCompareBoundaries(t *testing.T) {
	cases := []struct {
		op    domain.Operator
		value float64
		want  bool
	}{
		{domain.OpGreater, 19, false},
		{domain.OpGreater, 20, false},
		{domain.OpGreater, 21, true},
		{domain.OpLess, 19, true},
		{domain.OpLess, 20, false},
		{domain.OpLess, 21, false},
		{domain.OpEqual, 19, false},
		{domain.OpEqual, 20, true},
		{domain.OpEqual, 20.0000001, false},
		{domain.OpGreaterEqual, 19, false},
		{domain.OpGreaterEqual, 20, true},
		{domain.OpGreaterEqual, 21, true},
		{domain.OpLessEqual, 19, true},
		{domain.OpLessEqual, 20, true},
		{domain.OpLessEqual, 21, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%v", tc.op, tc.value), func(t *testing.T) {
			got, err := Compare(tc.op, tc.value, 20, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			res := Evaluate(schedulingNode(tc.value), []domain.Rule{rule("r", "Backlog Orders", tc.op, 20, "")}, Options{})
			assert.Equal(t, tc.want, len(res.Triggered) == 1)
		})
	}
}

func TestCompareEqualityEpsilon(t *testing.T) {
	hit, err := Compare(domain.OpEqual, 85.00001, 85, 0.001)
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = Compare(domain.OpEqual, 85.01, 85, 0.001)
	require.NoError(t, err)
	assert.False(t, hit)

	_, err = Compare("!=", 1, 1, 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidRule))
}

func TestEvaluateSchedulingBacklog(t *testing.T) {
	rules := []domain.Rule{
		rule("rule-1", "Backlog Orders", domain.OpGreater, 20, ""),
	}
	res := Evaluate(schedulingNode(30), rules, Options{})
	require.Len(t, res.Triggered, 1)
	assert.Equal(t, "rule-1", res.Triggered[0].Rule.ID)
	assert.Equal(t, 30.0, res.Triggered[0].Value)
	assert.Equal(t, domain.SeverityCritical, res.Triggered[0].Severity)
	assert.Equal(t, domain.StatusCritical, res.Status)

	res = Evaluate(schedulingNode(15), rules, Options{})
	assert.Empty(t, res.Triggered)
	assert.Equal(t, domain.StatusHealthy, res.Status)
}

func TestEvaluateStaleRulesDoNotAbort(t *testing.T) {
	rules := []domain.Rule{
		rule("a-missing", "Removed Metric", domain.OpGreater, 1, ""),
		rule("b-text", "Shift Note", domain.OpGreater, 1, ""),
		rule("c-rate", "On-time Scheduling Rate", domain.OpLess, 85, domain.SeverityWarning),
	}
	res := Evaluate(schedulingNode(10), rules, Options{})
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "a-missing", res.Warnings[0].RuleID)
	assert.Equal(t, "b-text", res.Warnings[1].RuleID)
	require.Len(t, res.Triggered, 1)
	assert.Equal(t, "c-rate", res.Triggered[0].Rule.ID)
	assert.Equal(t, domain.StatusWarning, res.Status)
}

func TestEvaluateSkipsDisabledAndForeignRules(t *testing.T) {
	disabled := rule("off", "Backlog Orders", domain.OpGreater, 0, "")
	disabled.Enabled = false
	foreign := rule("other", "Backlog Orders", domain.OpGreater, 0, "")
	foreign.NodeID = "assembly"
	res := Evaluate(schedulingNode(30), []domain.Rule{disabled, foreign}, Options{})
	assert.Empty(t, res.Triggered)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, domain.StatusHealthy, res.Status)
}

func permutations(rs []domain.Rule) [][]domain.Rule {
	if len(rs) <= 1 {
		return [][]domain.Rule{append([]domain.Rule(nil), rs...)}
	}
	var out [][]domain.Rule
	for i := range rs {
		rest := make([]domain.Rule, 0, len(rs)-1)
		rest = append(rest, rs[:i]...)
		rest = append(rest, rs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]domain.Rule{rs[i]}, p...))
		}
	}
	return out
}

func TestAggregateStatusIsOrderIndependent(t *testing.T) {
	sets := map[string][]domain.Rule{
		"warning and critical": {
			rule("w1", "On-time Scheduling Rate", domain.OpLess, 85, domain.SeverityWarning),
			rule("c1", "Backlog Orders", domain.OpGreater, 20, domain.SeverityCritical),
			rule("w2", "Backlog Orders", domain.OpGreaterEqual, 10, domain.SeverityWarning),
			rule("s1", "Missing", domain.OpGreater, 0, ""),
		},
		"warnings only": {
			rule("w1", "On-time Scheduling Rate", domain.OpLess, 85, domain.SeverityWarning),
			rule("w2", "Backlog Orders", domain.OpGreaterEqual, 10, domain.SeverityWarning),
			rule("q1", "Backlog Orders", domain.OpLess, 0, domain.SeverityCritical),
		},
		"unflagged counts as critical": {
			rule("w1", "On-time Scheduling Rate", domain.OpLess, 85, domain.SeverityWarning),
			rule("u1", "Backlog Orders", domain.OpGreater, 20, ""),
		},
	}
	want := map[string]domain.NodeStatus{
		"warning and critical":         domain.StatusCritical,
		"warnings only":                domain.StatusWarning,
		"unflagged counts as critical": domain.StatusCritical,
	}
	for name, rs := range sets {
		t.Run(name, func(t *testing.T) {
			var first Result
			for i, p := range permutations(rs) {
				res := Evaluate(schedulingNode(30), p, Options{})
				assert.Equal(t, want[name], res.Status)
				if i == 0 {
					first = res
					continue
				}
				assert.Equal(t, first, res)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	node := schedulingNode(30)
	ok := rule("r", "Backlog Orders", domain.OpGreater, 20, "")
	require.NoError(t, Validate(ok, node))

	text := rule("r", "Shift Note", domain.OpGreater, 20, "")
	err := Validate(text, node)
	assert.True(t, errors.Is(err, domain.ErrInvalidReference))

	missing := rule("r", "Nope", domain.OpGreater, 20, "")
	assert.True(t, errors.Is(Validate(missing, node), domain.ErrInvalidReference))

	badOp := rule("r", "Backlog Orders", "!=", 20, "")
	assert.True(t, errors.Is(Validate(badOp, node), domain.ErrInvalidRule))

	badSev := rule("r", "Backlog Orders", domain.OpGreater, 20, "urgent")
	assert.True(t, errors.Is(Validate(badSev, node), domain.ErrInvalidRule))

	noAction := rule("r", "Backlog Orders", domain.OpGreater, 20, "")
	noAction.TriggerAction = ""
	assert.True(t, errors.Is(Validate(noAction, node), domain.ErrInvalidRule))
}

func TestFromTemplate(t *testing.T) {
	r, err := FromTemplate("otd-backlog-alert", "rule-x", "scheduling")
	require.NoError(t, err)
	assert.Equal(t, "Backlog Orders", r.Metric)
	assert.Equal(t, domain.OpGreater, r.Operator)
	assert.True(t, r.Enabled)
	require.NoError(t, Validate(r, schedulingNode(30)))

	_, err = FromTemplate("nope", "x", "scheduling")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Len(t, Templates(), 3)
}
