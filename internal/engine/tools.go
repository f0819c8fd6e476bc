package engine

import (
	"context"
	"fmt"
	"strings"

	"taskline/internal/domain"
)

const (
	ToolAzureDevOps = "azure_devops"
	ToolOSIOne      = "osi_one"
	ToolTeams       = "teams"
	ToolAggregator  = "aggregator"
)

var toolByIntent = map[domain.IntentName]string{
	domain.IntentTimesheet:    ToolOSIOne,
	domain.IntentTasks:        ToolAzureDevOps,
	domain.IntentTaskUpdate:   ToolAzureDevOps,
	domain.IntentPullRequests: ToolAzureDevOps,
	domain.IntentMeetings:     ToolTeams,
	domain.IntentSummary:      ToolAggregator,
}

// ToolFor returns the tool that serves an intent. Unknown intents go to
// the work-item backend.
func ToolFor(intent domain.IntentName) string {
	if tool, ok := toolByIntent[intent]; ok {
		return tool
	}
	return ToolAzureDevOps
}

type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Connected   bool   `json:"connected"`
}

// Tools lists every tool the engine can route to.
func (e Engine) Tools() []ToolInfo {
	return []ToolInfo{
		{Name: ToolAzureDevOps, Description: "Azure DevOps work items and pull requests", Connected: e.Backend != nil},
		{Name: ToolOSIOne, Description: "Timesheets", Connected: false},
		{Name: ToolTeams, Description: "Meetings and calendar", Connected: false},
		{Name: ToolAggregator, Description: "Cross-tool activity summary", Connected: false},
	}
}

type toolResult struct {
	ok       bool
	message  string
	state    string
	reject   string
	outcomes []domain.ItemOutcome
}

func (e Engine) listWorkItems(ctx context.Context, entities domain.EntityBag) toolResult {
	if e.Backend == nil {
		return e.backendUnavailable()
	}
	filter := domain.WorkItemFilter{Sprint: entities.Sprint, Status: entities.Status}
	items, err := e.Backend.QueryAssignedWorkItems(ctx, filter)
	if err != nil {
		return toolResult{message: fmt.Sprintf("I encountered an error while accessing Azure DevOps: %v", err)}
	}
	msg := FormatWorkItems(items)
	var filters []string
	if filter.Status != "" {
		filters = append(filters, "status: "+filter.Status)
	}
	if filter.Sprint != "" {
		filters = append(filters, "sprint: "+filter.Sprint)
	}
	if len(filters) > 0 {
		msg = fmt.Sprintf("Filtered by: %s\n\n%s", strings.Join(filters, ", "), msg)
	}
	return toolResult{ok: true, message: msg}
}

func (e Engine) listPullRequests(ctx context.Context, entities domain.EntityBag) toolResult {
	if e.Backend == nil {
		return e.backendUnavailable()
	}
	prs, err := e.Backend.QueryPullRequests(ctx, domain.PullRequestFilter{Status: pullRequestStatus(entities.Status)})
	if err != nil {
		return toolResult{message: fmt.Sprintf("I encountered an error while accessing Azure DevOps: %v", err)}
	}
	return toolResult{ok: true, message: FormatPullRequests(prs)}
}

// pullRequestStatus maps a work-item status token onto the pull-request
// search vocabulary.
func pullRequestStatus(status string) string {
	switch status {
	case "resolved", "closed":
		return "completed"
	default:
		return "active"
	}
}

func placeholder(tool string, intent domain.Intent) toolResult {
	var what string
	switch tool {
	case ToolOSIOne:
		what = "Timesheet"
	case ToolTeams:
		what = "Meetings and calendar"
	default:
		what = "Activity summary"
	}
	msg := fmt.Sprintf("%s support is not connected yet. I understood a %s request", what, intent.Name)
	if p := intent.Entities.TimePeriod; p != "" {
		msg += " for " + p
	}
	if p := intent.Entities.Person; p != "" {
		msg += " with " + p
	}
	return toolResult{ok: true, message: msg + "."}
}

func FormatWorkItems(items []domain.WorkItem) string {
	if len(items) == 0 {
		return "No tasks found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d tasks assigned to you:\n", len(items))
	for i, it := range items {
		fmt.Fprintf(&b, "\n%d. [%s-%d] %s\n   Status: %s", i+1, strings.ToUpper(it.Type), it.ID, it.Title, it.State)
		if it.IterationPath != "" {
			fmt.Fprintf(&b, "\n   Sprint: %s", it.IterationPath)
		}
		if it.Priority > 0 {
			fmt.Fprintf(&b, "\n   Priority: %d", it.Priority)
		}
	}
	return b.String()
}

func FormatPullRequests(prs []domain.PullRequest) string {
	if len(prs) == 0 {
		return "No pull requests found."
	}
	var b strings.Builder
	b.WriteString("Your recent pull requests:\n")
	for i, pr := range prs {
		fmt.Fprintf(&b, "\n%d. PR-%d: %s\n   Repository: %s\n   %s -> %s\n   Created by: %s",
			i+1, pr.ID, pr.Title, pr.Repository, pr.SourceBranch, pr.TargetBranch, pr.CreatedBy)
	}
	return b.String()
}
