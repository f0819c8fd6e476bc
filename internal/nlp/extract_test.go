package nlp

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/domain"
)

func TestExtractUpdateFields(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		id     string
		typ    string
		fields []domain.Field
		bound  map[domain.Field]string
	}{
		{
			name:   "status and priority",
			text:   "update task 5131 status to active and priority to 2",
			id:     "5131",
			typ:    "TASK",
			fields: []domain.Field{domain.FieldStatus, domain.FieldPriority},
			bound:  map[domain.Field]string{domain.FieldStatus: "active", domain.FieldPriority: "2"},
		},
		{
			name:   "start date",
			text:   "Update TASK-101 start date to 08/08/2025",
			id:     "101",
			typ:    "TASK",
			fields: []domain.Field{domain.FieldStartDate},
			bound:  map[domain.Field]string{domain.FieldStartDate: "08/08/2025"},
		},
		{
			name:   "user story status phrase",
			text:   "update user story 77 state -> in progress",
			id:     "77",
			typ:    "USER STORY",
			fields: []domain.Field{domain.FieldStatus},
			bound:  map[domain.Field]string{domain.FieldStatus: "active"},
		},
		{
			name:   "remaining hours",
			text:   "set task 12 remaining hours 6",
			id:     "12",
			typ:    "TASK",
			fields: []domain.Field{domain.FieldRemaining},
			bound:  map[domain.Field]string{domain.FieldRemaining: "6"},
		},
		{
			name:   "quoted title",
			text:   `update bug 4 title to "Login name broken"`,
			id:     "4",
			typ:    "BUG",
			fields: []domain.Field{domain.FieldTitle},
			bound:  map[domain.Field]string{domain.FieldTitle: "Login name broken"},
		},
		{
			name:   "date fields zip positionally",
			text:   "Update TASK-12345 start date and finish date to 08/11/2025 and 08/12/2025",
			id:     "12345",
			typ:    "TASK",
			fields: []domain.Field{domain.FieldStartDate, domain.FieldFinishDate},
		},
		{
			name:   "date zip leaves other bindings",
			text:   "update task 9 start date and finish date to 08/11/2025 and 08/12/2025, status to closed",
			id:     "9",
			typ:    "TASK",
			fields: []domain.Field{domain.FieldStartDate, domain.FieldFinishDate, domain.FieldStatus},
			bound:  map[domain.Field]string{domain.FieldStatus: "closed"},
		},
		{
			name:   "unknown status word after separator",
			text:   "update task 3 status to frozen",
			id:     "3",
			typ:    "TASK",
			fields: []domain.Field{domain.FieldStatus},
			bound:  map[domain.Field]string{domain.FieldStatus: "frozen"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bag := Extract(tc.text, domain.IntentTaskUpdate)
			assert.Equal(t, tc.id, bag.TaskID)
			assert.Equal(t, tc.typ, bag.WorkItemType)
			if diff := cmp.Diff(tc.fields, bag.FieldNames); diff != "" {
				t.Errorf("field names (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.bound, bag.Bound); diff != "" {
				t.Errorf("bound values (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractMalformedID(t *testing.T) {
	bag := Extract("update TASK-abc status to closed", domain.IntentTaskUpdate)
	assert.Equal(t, "abc", bag.TaskID)
	assert.Equal(t, "TASK", bag.WorkItemType)
}

func TestExtractCollectsValueLists(t *testing.T) {
	bag := Extract("update task 8 status to resolved, start 2025-01-02 and finish date 2025-01-09", domain.IntentTaskUpdate)
	assert.Equal(t, []string{"2025-01-02", "2025-01-09"}, bag.DateValues)
	assert.Equal(t, []string{"resolved"}, bag.StatusValues)
	assert.Equal(t, "resolved", bag.Status)
	assert.Equal(t, "2025-01-02", bag.Bound[domain.FieldStartDate])
	assert.Equal(t, "2025-01-09", bag.Bound[domain.FieldFinishDate])
}

func TestExtractAmbientSignals(t *testing.T) {
	bag := Extract("show my active tasks in sprint 3", domain.IntentTasks)
	assert.Equal(t, "3", bag.Sprint)
	assert.Equal(t, "active", bag.Status)
	assert.Equal(t, "sprint", bag.Context)
	assert.Empty(t, bag.FieldNames)

	bag = Extract("show my meetings with Sarah tomorrow", domain.IntentMeetings)
	assert.Equal(t, "Sarah", bag.Person)
	assert.Equal(t, "tomorrow", bag.TimePeriod)

	bag = Extract("list urgent bugs in the current sprint", domain.IntentTasks)
	assert.Equal(t, "high", bag.Priority)
	assert.Equal(t, "current", bag.Sprint)
	assert.Equal(t, "current sprint", bag.TimePeriod)
}

func TestExtractIgnoresFieldsForReadIntents(t *testing.T) {
	bag := Extract("show task 5 status", domain.IntentTasks)
	assert.Equal(t, "5", bag.TaskID)
	assert.Nil(t, bag.Bound)
	assert.Nil(t, bag.FieldNames)
}

func TestExtractBatch(t *testing.T) {
	bag := Extract("Please update following individual tasks:\n"+
		"TASK 101 -> Start Date -> 08/08/2025\n"+
		"\n"+
		"TASK 102 -> Status -> In Progress\n", domain.IntentTaskUpdate)
	require.False(t, bag.BatchUpdateError, bag.BatchErrors)
	want := []domain.BatchItem{
		{TaskID: "101", Updates: []domain.FieldUpdate{{Field: domain.FieldStartDate, Value: "08/08/2025"}}},
		{TaskID: "102", Updates: []domain.FieldUpdate{{Field: domain.FieldStatus, Value: "active"}}},
	}
	if diff := cmp.Diff(want, bag.BatchUpdates); diff != "" {
		t.Fatalf("batch (-want +got):\n%s", diff)
	}
	assert.Empty(t, bag.TaskID)
}

func TestBatchErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"bad id", "update following individual tasks\nTASK 5131x -> Status -> Closed", `invalid task id "5131x"`},
		{"not a task line", "update following individual tasks\nBUG 4 -> Status -> Closed", "expected 'TASK <number> ->'"},
		{"no fields", "update following individual tasks\nTASK 7 -> Priority -> 2", "no recognised field updates"},
		{"header only", "update following individual tasks", "no task lines follow the batch header"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bag := Extract(tc.text, domain.IntentTaskUpdate)
			assert.True(t, bag.BatchUpdateError)
			assert.Empty(t, bag.BatchUpdates)
			require.NotEmpty(t, bag.BatchErrors)
			assert.Contains(t, bag.BatchErrors[0], tc.want)
		})
	}
}

func TestIsBatchFindsHeaderOnAnyLine(t *testing.T) {
	assert.True(t, IsBatch("\n\n  update following individual tasks:\nTASK 1 -> Status -> Active"))
	assert.True(t, IsBatch("hello\nupdate following individual tasks\nTASK 1 -> Status -> Active"))
	assert.False(t, IsBatch("update task 1 status to active"))
	assert.False(t, IsBatch(""))
}

func TestBatchAfterGreetingIsAllOrNothing(t *testing.T) {
	bag := Extract("Hi team,\nupdate following individual tasks:\n"+
		"TASK abc -> Status -> Closed\n"+
		"TASK 51312 -> Status -> Closed\n"+
		"TASK 51313 -> Status -> Closed", domain.IntentTaskUpdate)
	assert.True(t, bag.BatchUpdateError)
	assert.Empty(t, bag.BatchUpdates)
	assert.Empty(t, bag.TaskID)
	assert.Equal(t, []string{`line 3: invalid task id "abc": TASK abc -> Status -> Closed`}, bag.BatchErrors)
}

func TestBatchErrorLinesAreOneBased(t *testing.T) {
	bag := Extract("\nupdate following individual tasks\nTASK 1 -> Status -> Active\n\nTASK x1 -> Status -> Closed", domain.IntentTaskUpdate)
	require.Len(t, bag.BatchErrors, 1)
	assert.True(t, strings.HasPrefix(bag.BatchErrors[0], "line 5: "), bag.BatchErrors[0])
}

func TestNormalizeStatusWord(t *testing.T) {
	assert.Equal(t, "active", NormalizeStatusWord("In  Progress"))
	assert.Equal(t, "blocked", NormalizeStatusWord("on hold"))
	assert.Equal(t, "resolved", NormalizeStatusWord("Done"))
	assert.Equal(t, "frozen", NormalizeStatusWord("Frozen"))
}
