package domain

import "time"

type IntentName string

const (
	IntentTimesheet    IntentName = "timesheet"
	IntentTasks        IntentName = "tasks"
	IntentTaskUpdate   IntentName = "task_update"
	IntentPullRequests IntentName = "pull_requests"
	IntentMeetings     IntentName = "meetings"
	IntentSummary      IntentName = "summary"
)

// Field is a canonical work-item field name.
type Field string

const (
	FieldStartDate        Field = "start_date"
	FieldFinishDate       Field = "finish_date"
	FieldStatus           Field = "status"
	FieldPriority         Field = "priority"
	FieldTitle            Field = "title"
	FieldDescription      Field = "description"
	FieldAssignedTo       Field = "assigned_to"
	FieldRemaining        Field = "remaining"
	FieldCompleted        Field = "completed"
	FieldOriginalEstimate Field = "original_estimate"
)

// Fields lists every canonical field in display order.
var Fields = []Field{
	FieldStartDate, FieldFinishDate, FieldStatus, FieldPriority, FieldTitle,
	FieldDescription, FieldAssignedTo, FieldRemaining, FieldCompleted, FieldOriginalEstimate,
}

func (f Field) IsDate() bool {
	return f == FieldStartDate || f == FieldFinishDate
}

func (f Field) IsNumeric() bool {
	switch f {
	case FieldRemaining, FieldCompleted, FieldOriginalEstimate, FieldPriority:
		return true
	}
	return false
}

type Intent struct {
	Name       IntentName `json:"intent" enum:"timesheet,tasks,task_update,pull_requests,meetings,summary"`
	Confidence float64    `json:"confidence"`
	Entities   EntityBag  `json:"entities"`
}

type FieldUpdate struct {
	Field Field `json:"field"`
	Value any   `json:"value"`
}

type BatchItem struct {
	TaskID  string        `json:"task_id"`
	Updates []FieldUpdate `json:"updates"`
}

// EntityBag holds every signal the extractor recognised. Absent signals stay zero.
type EntityBag struct {
	TaskID       string `json:"task_id,omitempty"`
	WorkItemType string `json:"work_item_type,omitempty"`

	FieldNames             []Field          `json:"field_names,omitempty"`
	Bound                  map[Field]string `json:"bound,omitempty"`
	DateValues             []string         `json:"date_values,omitempty"`
	StatusValues           []string         `json:"status_values,omitempty"`
	RemainingValues        []string         `json:"remaining_values,omitempty"`
	CompletedValues        []string         `json:"completed_values,omitempty"`
	OriginalEstimateValues []string         `json:"original_estimate_values,omitempty"`
	AssigneeValues         []string         `json:"assignee_values,omitempty"`

	BatchUpdates     []BatchItem `json:"batch_updates,omitempty"`
	BatchUpdateError bool        `json:"batch_update_error,omitempty"`
	BatchErrors      []string    `json:"batch_errors,omitempty"`

	Sprint     string `json:"sprint,omitempty"`
	Status     string `json:"status,omitempty"`
	TimePeriod string `json:"time_period,omitempty"`
	Person     string `json:"person,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Context    string `json:"context,omitempty"`
	TaskType   string `json:"task_type,omitempty"`
}

// IsBatch reports whether the request used the batch form, even a malformed one.
func (e EntityBag) IsBatch() bool {
	return len(e.BatchUpdates) > 0 || e.BatchUpdateError
}

type FieldUpdatePlan struct {
	WorkItemID   int           `json:"work_item_id"`
	WorkItemType string        `json:"work_item_type,omitempty"`
	Updates      []FieldUpdate `json:"updates"`
}

// Value returns the planned value for f.
func (p FieldUpdatePlan) Value(f Field) (any, bool) {
	for _, u := range p.Updates {
		if u.Field == f {
			return u.Value, true
		}
	}
	return nil, false
}

type ItemOutcome struct {
	WorkItemID int           `json:"work_item_id"`
	Updates    []FieldUpdate `json:"updates,omitempty"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
}

// BatchResult keeps outcomes in plan input order.
type BatchResult struct {
	Outcomes []ItemOutcome `json:"outcomes"`
}

func (b BatchResult) Succeeded() []ItemOutcome {
	var res []ItemOutcome
	for _, o := range b.Outcomes {
		if o.OK {
			res = append(res, o)
		}
	}
	return res
}

func (b BatchResult) Failed() []ItemOutcome {
	var res []ItemOutcome
	for _, o := range b.Outcomes {
		if !o.OK {
			res = append(res, o)
		}
	}
	return res
}

type WorkItem struct {
	ID            int    `json:"id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	State         string `json:"state"`
	AssignedTo    string `json:"assigned_to,omitempty"`
	IterationPath string `json:"iteration_path,omitempty"`
	Priority      int    `json:"priority,omitempty"`
}

type WorkItemSnapshot struct {
	ID     int            `json:"id"`
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields"`
}

type WorkItemFilter struct {
	Sprint string `json:"sprint,omitempty"`
	Status string `json:"status,omitempty"`
}

type PullRequestFilter struct {
	Status    string `json:"status,omitempty"`
	CreatorID string `json:"creator_id,omitempty"`
}

type PullRequest struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Repository   string `json:"repository"`
	CreatedBy    string `json:"created_by"`
	SourceBranch string `json:"source_branch,omitempty"`
	TargetBranch string `json:"target_branch,omitempty"`
}

type ResultMetadata struct {
	QueryID   string        `json:"query_id,omitempty"`
	Entities  EntityBag     `json:"entities"`
	State     string        `json:"state,omitempty"`
	Rejection string        `json:"rejection,omitempty"`
	Outcomes  []ItemOutcome `json:"outcomes,omitempty"`
}

// Result is the envelope every front end receives.
type Result struct {
	Success    bool           `json:"success"`
	Response   string         `json:"response"`
	Intent     IntentName     `json:"intent"`
	Confidence float64        `json:"confidence"`
	ToolUsed   string         `json:"tool_used"`
	Metadata   ResultMetadata `json:"metadata"`
}

type HistoryEntry struct {
	UserInput  string     `json:"user_input"`
	Intent     IntentName `json:"intent"`
	Confidence float64    `json:"confidence"`
	Entities   EntityBag  `json:"entities"`
	Response   string     `json:"response"`
	Success    bool       `json:"success"`
	Timestamp  time.Time  `json:"timestamp"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	QueryID    string `json:"query_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
