package engine

import (
	"context"
	"time"

	"otdops/internal/domain"
	"otdops/internal/repo"
)

// Summary is the dashboard view. HealthyShare is healthy over all nodes and SOPClosureRate is
// completed over all tasks, both 0 when there is nothing to count. AlertHotspot is the node
// holding the most open tasks; ties go to the earlier node in flow order.
type Summary struct {
	Nodes          int                       `json:"nodes"`
	NodesByStatus  map[domain.NodeStatus]int `json:"nodes_by_status"`
	TasksByStatus  map[domain.TaskStatus]int `json:"tasks_by_status"`
	OpenByPriority map[domain.Priority]int   `json:"open_by_priority"`
	OverdueTasks   []domain.Task             `json:"overdue_tasks"`
	HealthyShare   float64                   `json:"healthy_share"`
	ActiveAlerts   int                       `json:"active_alerts"`
	AlertHotspot   string                    `json:"alert_hotspot,omitempty"`
	SOPClosureRate float64                   `json:"sop_closure_rate"`
	GeneratedAt    string                    `json:"generated_at" format:"date-time"`
}

// Summary aggregates node health and the open task backlog.
func (e Engine) Summary(ctx context.Context) (Summary, error) {
	nodes, err := e.Repo.ListNodes(ctx)
	if err != nil {
		return Summary{}, err
	}
	byStatus, err := e.Repo.CountTasksByStatus(ctx)
	if err != nil {
		return Summary{}, err
	}
	open, err := e.Repo.ListTasks(ctx, repo.TaskFilters{OpenOnly: true})
	if err != nil {
		return Summary{}, err
	}
	now := e.now().UTC()
	s := Summary{
		Nodes:          len(nodes),
		NodesByStatus:  map[domain.NodeStatus]int{domain.StatusHealthy: 0, domain.StatusWarning: 0, domain.StatusCritical: 0},
		TasksByStatus:  map[domain.TaskStatus]int{domain.TaskPending: 0, domain.TaskInProgress: 0, domain.TaskCompleted: 0},
		OpenByPriority: map[domain.Priority]int{domain.PriorityHigh: 0, domain.PriorityMedium: 0, domain.PriorityLow: 0},
		OverdueTasks:   []domain.Task{},
		GeneratedAt:    now.Format(time.RFC3339),
	}
	for _, n := range nodes {
		s.NodesByStatus[n.Status]++
	}
	if len(nodes) > 0 {
		s.HealthyShare = float64(s.NodesByStatus[domain.StatusHealthy]) / float64(len(nodes))
	}
	total := 0
	for st, c := range byStatus {
		s.TasksByStatus[st] = c
		total += c
	}
	if total > 0 {
		s.SOPClosureRate = float64(s.TasksByStatus[domain.TaskCompleted]) / float64(total)
	}
	s.ActiveAlerts = len(open)
	perNode := make(map[string]int, len(nodes))
	for _, t := range open {
		perNode[t.NodeID]++
		s.OpenByPriority[t.Priority]++
		due, err := time.Parse(time.RFC3339, t.DueAt)
		if err == nil && due.Before(now) {
			s.OverdueTasks = append(s.OverdueTasks, t)
		}
	}
	best := 0
	for _, n := range nodes {
		if c := perNode[n.ID]; c > best {
			best, s.AlertHotspot = c, n.ID
		}
	}
	return s, nil
}
