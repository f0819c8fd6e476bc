package ado

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"taskline/internal/domain"
)

// FieldPaths maps canonical fields to Azure DevOps reference names.
var FieldPaths = map[domain.Field]string{
	domain.FieldStartDate:        "Microsoft.VSTS.Scheduling.StartDate",
	domain.FieldFinishDate:       "Microsoft.VSTS.Scheduling.FinishDate",
	domain.FieldStatus:           "System.State",
	domain.FieldPriority:         "Microsoft.VSTS.Common.Priority",
	domain.FieldTitle:            "System.Title",
	domain.FieldDescription:      "System.Description",
	domain.FieldAssignedTo:       "System.AssignedTo",
	domain.FieldRemaining:        "Microsoft.VSTS.Scheduling.RemainingWork",
	domain.FieldCompleted:        "Microsoft.VSTS.Scheduling.CompletedWork",
	domain.FieldOriginalEstimate: "Microsoft.VSTS.Scheduling.OriginalEstimate",
}

// PatchOp is one JSON Patch operation.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// PatchDocument converts canonical updates into JSON Patch "add" operations.
func PatchDocument(updates []domain.FieldUpdate) ([]PatchOp, error) {
	ops := make([]PatchOp, 0, len(updates))
	for _, u := range updates {
		path, ok := FieldPaths[u.Field]
		if !ok {
			return nil, fmt.Errorf("unsupported field %q", u.Field)
		}
		ops = append(ops, PatchOp{Op: "add", Path: "/fields/" + path, Value: u.Value})
	}
	return ops, nil
}

// PatchWorkItem applies updates to a single work item.
func (c *Client) PatchWorkItem(ctx context.Context, id int, updates []domain.FieldUpdate) (map[string]any, error) {
	ops, err := PatchDocument(updates)
	if err != nil {
		return nil, err
	}
	endpoint := c.projectURL(fmt.Sprintf("wit/workitems/%d", id), nil)
	data, err := c.send(ctx, http.MethodPatch, endpoint, "application/json-patch+json", ops)
	if err != nil {
		return nil, fmt.Errorf("work item update failed: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode work item %d: %w", id, err)
	}
	c.logger.Info("work item patched", zap.Int("work_item_id", id), zap.Int("operations", len(ops)))
	return out, nil
}

type rawWorkItem struct {
	ID     int            `json:"id"`
	Fields map[string]any `json:"fields"`
}

// GetWorkItem fetches all fields of one work item.
func (c *Client) GetWorkItem(ctx context.Context, id int) (domain.WorkItemSnapshot, error) {
	endpoint := c.projectURL(fmt.Sprintf("wit/workitems/%d", id), nil)
	data, err := c.send(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return domain.WorkItemSnapshot{}, err
	}
	var raw rawWorkItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.WorkItemSnapshot{}, fmt.Errorf("decode work item %d: %w", id, err)
	}
	return domain.WorkItemSnapshot{
		ID:     raw.ID,
		Type:   strings.ToUpper(stringField(raw.Fields, "System.WorkItemType")),
		Fields: raw.Fields,
	}, nil
}

// WorkItemType returns the upper-case work-item type, e.g. "USER STORY".
func (c *Client) WorkItemType(ctx context.Context, id int) (string, error) {
	snap, err := c.GetWorkItem(ctx, id)
	if err != nil {
		return "", err
	}
	if snap.Type == "" {
		return "", fmt.Errorf("work item %d has no type", id)
	}
	return snap.Type, nil
}

var stateFilters = map[string]string{
	"active":   "('Active', 'In Progress')",
	"new":      "('New', 'Assigned')",
	"resolved": "('Resolved', 'Completed')",
	"closed":   "('Closed', 'Done')",
	"blocked":  "('Blocked', 'On Hold')",
}

func quoteWIQL(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// AssignedQuery builds the WIQL text for work items assigned to the caller.
func AssignedQuery(project string, f domain.WorkItemFilter) string {
	var b strings.Builder
	b.WriteString("SELECT [System.Id], [System.Title], [System.State], [System.AssignedTo], [System.IterationPath], [Microsoft.VSTS.Common.Priority] ")
	b.WriteString("FROM WorkItems WHERE [System.AssignedTo] = @me")
	status := strings.ToLower(strings.TrimSpace(f.Status))
	switch {
	case status == "":
		b.WriteString(" AND [System.State] NOT IN ('Closed', 'Removed')")
	case stateFilters[status] != "":
		b.WriteString(" AND [System.State] IN " + stateFilters[status])
	default:
		b.WriteString(" AND [System.State] = " + quoteWIQL(f.Status))
	}
	sprint := strings.TrimSpace(f.Sprint)
	switch {
	case sprint == "":
	case strings.EqualFold(sprint, "current"):
		b.WriteString(" AND [System.IterationPath] = @CurrentIteration")
	case isNumber(sprint):
		b.WriteString(" AND [System.IterationPath] UNDER " + quoteWIQL(project+`\Sprint `+sprint))
	default:
		b.WriteString(" AND [System.IterationPath] UNDER " + quoteWIQL(project+`\`+sprint))
	}
	b.WriteString(" ORDER BY [System.ChangedDate] DESC")
	return b.String()
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// QueryAssignedWorkItems runs the assigned-to-me query and hydrates the
// matching items in batches.
func (c *Client) QueryAssignedWorkItems(ctx context.Context, f domain.WorkItemFilter) ([]domain.WorkItem, error) {
	query := AssignedQuery(c.cfg.Project, f)
	data, err := c.send(ctx, http.MethodPost, c.projectURL("wit/wiql", nil), "application/json", map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("wiql query failed: %w", err)
	}
	var res struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode wiql result: %w", err)
	}
	ids := make([]int, 0, len(res.WorkItems))
	for _, w := range res.WorkItems {
		ids = append(ids, w.ID)
	}
	var items []domain.WorkItem
	for start := 0; start < len(ids); start += workItemsBatch {
		end := start + workItemsBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := c.fetchWorkItems(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	c.logger.Info("retrieved assigned work items",
		zap.Int("count", len(items)),
		zap.String("status", f.Status),
		zap.String("sprint", f.Sprint))
	return items, nil
}

func (c *Client) fetchWorkItems(ctx context.Context, ids []int) ([]domain.WorkItem, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	q := url.Values{}
	q.Set("ids", strings.Join(parts, ","))
	data, err := c.send(ctx, http.MethodGet, c.projectURL("wit/workitems", q), "", nil)
	if err != nil {
		return nil, fmt.Errorf("work items query failed: %w", err)
	}
	var res struct {
		Value []rawWorkItem `json:"value"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode work items: %w", err)
	}
	items := make([]domain.WorkItem, 0, len(res.Value))
	for _, raw := range res.Value {
		items = append(items, domain.WorkItem{
			ID:            raw.ID,
			Type:          stringField(raw.Fields, "System.WorkItemType"),
			Title:         stringField(raw.Fields, "System.Title"),
			State:         stringField(raw.Fields, "System.State"),
			AssignedTo:    identityName(raw.Fields["System.AssignedTo"]),
			IterationPath: stringField(raw.Fields, "System.IterationPath"),
			Priority:      intField(raw.Fields, "Microsoft.VSTS.Common.Priority"),
		})
	}
	return items, nil
}

// QueryPullRequests lists pull requests in the project, newest first.
func (c *Client) QueryPullRequests(ctx context.Context, f domain.PullRequestFilter) ([]domain.PullRequest, error) {
	status := f.Status
	if status == "" {
		status = "active"
	}
	q := url.Values{}
	q.Set("searchCriteria.status", status)
	q.Set("$top", strconv.Itoa(pullRequestsTop))
	if f.CreatorID != "" {
		q.Set("searchCriteria.creatorId", f.CreatorID)
	}
	data, err := c.send(ctx, http.MethodGet, c.projectURL("git/pullrequests", q), "", nil)
	if err != nil {
		return nil, fmt.Errorf("pull request query failed: %w", err)
	}
	var res struct {
		Value []struct {
			PullRequestID int    `json:"pullRequestId"`
			Title         string `json:"title"`
			Status        string `json:"status"`
			SourceRefName string `json:"sourceRefName"`
			TargetRefName string `json:"targetRefName"`
			CreatedBy     struct {
				DisplayName string `json:"displayName"`
			} `json:"createdBy"`
			Repository struct {
				Name string `json:"name"`
			} `json:"repository"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode pull requests: %w", err)
	}
	prs := make([]domain.PullRequest, 0, len(res.Value))
	for _, v := range res.Value {
		prs = append(prs, domain.PullRequest{
			ID:           v.PullRequestID,
			Title:        v.Title,
			Status:       v.Status,
			Repository:   v.Repository.Name,
			CreatedBy:    v.CreatedBy.DisplayName,
			SourceBranch: strings.TrimPrefix(v.SourceRefName, "refs/heads/"),
			TargetBranch: strings.TrimPrefix(v.TargetRefName, "refs/heads/"),
		})
	}
	c.logger.Info("retrieved pull requests", zap.Int("count", len(prs)), zap.String("status", status))
	return prs, nil
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func intField(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func identityName(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case map[string]any:
		if name, ok := id["displayName"].(string); ok {
			return name
		}
	}
	return ""
}
