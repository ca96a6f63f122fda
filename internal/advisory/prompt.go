package advisory

import (
	"fmt"
	"strconv"
	"strings"

	"otdops/internal/domain"
)

const systemPrompt = "You are an Operations Expert for an automotive Order-to-Delivery (OTD) system."

// MetricsFrom converts node metrics into prompt context.
func MetricsFrom(metrics []domain.Metric) []MetricContext {
	res := make([]MetricContext, 0, len(metrics))
	for _, m := range metrics {
		v := m.Text
		if m.Value != nil {
			v = strconv.FormatFloat(*m.Value, 'f', -1, 64)
		}
		res = append(res, MetricContext{Name: m.Name, Value: v, Unit: m.Unit})
	}
	return res
}

func metricLine(metrics []MetricContext) string {
	if len(metrics) == 0 {
		return "none reported"
	}
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		parts = append(parts, fmt.Sprintf("%s: %s%s", m.Name, m.Value, m.Unit))
	}
	return strings.Join(parts, ", ")
}

// BuildPrompt renders the user prompt for req.
func BuildPrompt(req Request) (string, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return "", fmt.Errorf("advisory subject is empty")
	}
	var b strings.Builder
	switch req.Kind {
	case KindSOPChecklist, "":
		b.WriteString("Task: Create a concise Standard Operating Procedure (SOP) checklist for the following operational issue.\n")
		fmt.Fprintf(&b, "Issue: %q\n", req.Subject)
		fmt.Fprintf(&b, "Current Metrics: %s\n\n", metricLine(req.Metrics))
		b.WriteString("Output Format:\nReturn ONLY a list of 3-5 actionable bullet points. Keep it professional and direct.\n")
	case KindBottleneck:
		fmt.Fprintf(&b, "Context: You are analyzing a bottleneck in a manufacturing process node: %q.\n", req.Subject)
		fmt.Fprintf(&b, "Metrics: %s\n\n", metricLine(req.Metrics))
		b.WriteString("Task: Provide a 2-sentence executive summary of why this node might be failing and 1 strategic recommendation.\n")
	default:
		return "", fmt.Errorf("unknown advisory kind %q", req.Kind)
	}
	return b.String(), nil
}
