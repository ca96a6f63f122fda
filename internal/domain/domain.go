package domain

type NodeStage string

const (
	StageStart   NodeStage = "start"
	StageProcess NodeStage = "process"
	StageEnd     NodeStage = "end"
)

type NodeStatus string

const (
	StatusHealthy  NodeStatus = "healthy"
	StatusWarning  NodeStatus = "warning"
	StatusCritical NodeStatus = "critical"
)

// Rank orders statuses so aggregation can take a max.
func (s NodeStatus) Rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpEqual, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Severity is the tier of a rule. The zero value means unflagged.
type Severity string

const (
	SeverityUnset    Severity = ""
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

func (s Severity) Valid() bool {
	return s == SeverityUnset || s == SeverityCritical || s == SeverityWarning
}

// Effective maps an unflagged rule to critical.
func (s Severity) Effective() Severity {
	if s == SeverityWarning {
		return SeverityWarning
	}
	return SeverityCritical
}

// Status is the node status contributed by a triggered rule of this severity.
func (s Severity) Status() NodeStatus {
	if s.Effective() == SeverityWarning {
		return StatusWarning
	}
	return StatusCritical
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Open reports whether the task still counts against its node.
func (s TaskStatus) Open() bool {
	return s == TaskPending || s == TaskInProgress
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

type Metric struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Value     *float64 `json:"value,omitempty"`
	Text      string   `json:"text,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Trend     Trend    `json:"trend" enum:"up,down,stable"`
	Leading   bool     `json:"leading"`
	UpdatedAt string   `json:"updated_at,omitempty" format:"date-time"`
}

// Numeric reports whether the metric carries a number rules can compare.
func (m Metric) Numeric() bool {
	return m.Value != nil
}

type ProcessNode struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Stage       NodeStage  `json:"stage" enum:"start,process,end"`
	Status      NodeStatus `json:"status" enum:"healthy,warning,critical"`
	Position    int        `json:"position"`
	Description string     `json:"description,omitempty"`
	Metrics     []Metric   `json:"metrics"`
	ActiveTasks int        `json:"active_tasks"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

// Metric looks up a metric by name.
func (n ProcessNode) Metric(name string) (Metric, bool) {
	for _, m := range n.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

type Rule struct {
	ID            string   `json:"id"`
	NodeID        string   `json:"node_id"`
	Metric        string   `json:"metric"`
	Operator      Operator `json:"operator" enum:">,<,=,>=,<="`
	Threshold     float64  `json:"threshold"`
	Severity      Severity `json:"severity,omitempty"`
	TriggerAction string   `json:"trigger_action"`
	TargetRole    string   `json:"target_role"`
	SopID         string   `json:"sop_id,omitempty"`
	Enabled       bool     `json:"enabled"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type Feedback struct {
	RootCause  string `json:"root_cause"`
	Comment    string `json:"comment"`
	RecordedBy string `json:"recorded_by,omitempty"`
	RecordedAt string `json:"recorded_at,omitempty" format:"date-time"`
}

type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	NodeID       string     `json:"node_id"`
	RuleID       *string    `json:"rule_id,omitempty"`
	Status       TaskStatus `json:"status" enum:"pending,in_progress,completed"`
	Priority     Priority   `json:"priority" enum:"high,medium,low"`
	Assignee     string     `json:"assignee,omitempty"`
	DueAt        string     `json:"due_at" format:"date-time"`
	Description  string     `json:"description,omitempty"`
	SopID        string     `json:"sop_id"`
	TriggerValue *float64   `json:"trigger_value,omitempty"`
	TriggeredAt  *string    `json:"triggered_at,omitempty" format:"date-time"`
	Feedback     *Feedback  `json:"feedback,omitempty"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
	CompletedAt  *string    `json:"completed_at,omitempty" format:"date-time"`
}

type SOP struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content,omitempty"`
	Steps   []string `json:"steps"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
