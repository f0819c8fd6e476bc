package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskline/internal/domain"
)

func TestReportSingle(t *testing.T) {
	text, ok := Report(domain.BatchResult{Outcomes: []domain.ItemOutcome{{
		WorkItemID: 12,
		OK:         true,
		Updates: []domain.FieldUpdate{
			{Field: domain.FieldStatus, Value: "Active"},
			{Field: domain.FieldPriority, Value: 2},
		},
	}}}, false)
	assert.True(t, ok)
	assert.Equal(t, "Task 12 updated successfully!\n\nUpdated fields:\n• status: Active\n• priority: 2", text)

	text, ok = Report(domain.BatchResult{Outcomes: []domain.ItemOutcome{{WorkItemID: 12, Error: "401 unauthorized"}}}, false)
	assert.False(t, ok)
	assert.Equal(t, "Failed to update task 12: 401 unauthorized", text)
}

func TestReportBatch(t *testing.T) {
	all := domain.BatchResult{Outcomes: []domain.ItemOutcome{{WorkItemID: 1, OK: true}, {WorkItemID: 2, OK: true}}}
	text, ok := Report(all, true)
	assert.True(t, ok)
	assert.Equal(t, "**Batch Update Completed Successfully!**\n\nUpdated 2 tasks:\n• TASK-1\n• TASK-2", text)

	none := domain.BatchResult{Outcomes: []domain.ItemOutcome{{WorkItemID: 1, Error: "boom"}}}
	text, ok = Report(none, true)
	assert.False(t, ok)
	assert.Equal(t, "**Batch Update Failed**\n\nFailed to update 1 tasks:\n• TASK-1: boom", text)

	mixed := domain.BatchResult{Outcomes: []domain.ItemOutcome{{WorkItemID: 1, OK: true}, {WorkItemID: 2, Error: "gone"}}}
	text, ok = Report(mixed, true)
	assert.False(t, ok)
	assert.Equal(t, "**Batch Update Partially Completed**\n\n"+
		"Successfully updated 1 tasks\nFailed to update 1 tasks\n\n"+
		"**Successfully Updated:**\n• TASK-1\n\n"+
		"**Failed Updates:**\n• TASK-2: gone", text)
}

func TestSingleItemBatchUsesBatchReport(t *testing.T) {
	text, ok := Report(domain.BatchResult{Outcomes: []domain.ItemOutcome{{WorkItemID: 9, OK: true}}}, true)
	assert.True(t, ok)
	assert.Contains(t, text, "Batch Update Completed Successfully!")
}
