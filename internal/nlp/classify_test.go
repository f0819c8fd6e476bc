package nlp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"taskline/internal/domain"
)

type fakeModel struct {
	label string
	err   error
	calls int
}

func (m *fakeModel) Label(ctx context.Context, text string) (string, error) {
	m.calls++
	return m.label, m.err
}

func TestClassifyKeywords(t *testing.T) {
	cases := []struct {
		text       string
		intent     domain.IntentName
		confidence float64
	}{
		{"update task 5131 status to active", domain.IntentTaskUpdate, 0.8},
		{"update status to active", domain.IntentTaskUpdate, 0.6},
		{"Set TASK-abc state to closed", domain.IntentTaskUpdate, 0.6},
		{"fill my timesheet for this week", domain.IntentTimesheet, 0.6},
		{"show my tasks", domain.IntentTasks, 0.6},
		{"any meetings tomorrow?", domain.IntentMeetings, 0.6},
		{"list my pull requests", domain.IntentPullRequests, 0.6},
		{"give me a summary", domain.IntentSummary, 0.6},
		{"hello there", domain.IntentTasks, 0.3},
	}
	c := Classifier{Logger: zaptest.NewLogger(t)}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got := c.Classify(context.Background(), tc.text)
			assert.Equal(t, tc.intent, got.Name)
			assert.Equal(t, tc.confidence, got.Confidence)
		})
	}
}

func TestClassifyBatchIsConfident(t *testing.T) {
	got := Classifier{}.Classify(context.Background(), "update following individual tasks\nTASK 1 -> Status -> Active")
	assert.Equal(t, domain.IntentTaskUpdate, got.Name)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Len(t, got.Entities.BatchUpdates, 1)
}

func TestUpdateVerbBypassesModel(t *testing.T) {
	m := &fakeModel{label: "meetings"}
	got := Classifier{Model: m}.Classify(context.Background(), "change task 4 priority to 1")
	assert.Equal(t, domain.IntentTaskUpdate, got.Name)
	assert.Zero(t, m.calls)
}

func TestModelLabels(t *testing.T) {
	cases := []struct {
		name       string
		model      *fakeModel
		intent     domain.IntentName
		confidence float64
	}{
		{"mapped", &fakeModel{label: "Meetings"}, domain.IntentMeetings, 0.8},
		{"unmapped", &fakeModel{label: "banana"}, domain.IntentTasks, 0.5},
		{"update label ignored", &fakeModel{label: "task_update"}, domain.IntentSummary, 0.6},
		{"error falls back", &fakeModel{err: errors.New("timeout")}, domain.IntentSummary, 0.6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Classifier{Model: tc.model, Logger: zaptest.NewLogger(t)}
			got := c.Classify(context.Background(), "weekly activity summary please")
			assert.Equal(t, tc.intent, got.Name)
			assert.Equal(t, tc.confidence, got.Confidence)
			assert.Equal(t, 1, tc.model.calls)
		})
	}
}

func TestMapModelLabel(t *testing.T) {
	cases := map[string]domain.IntentName{
		"timesheet":      domain.IntentTimesheet,
		"Task update":    domain.IntentTaskUpdate,
		" tasks\n":       domain.IntentTasks,
		"calendar":       domain.IntentMeetings,
		"pull_requests":  domain.IntentPullRequests,
		"PR":             domain.IntentPullRequests,
		"status report":  domain.IntentSummary,
		"something else": domain.IntentTasks,
	}
	for label, want := range cases {
		got, _ := MapModelLabel(label)
		assert.Equal(t, want, got, label)
	}
	_, ok := MapModelLabel("something else")
	assert.False(t, ok)
}

func TestNewAnthropicClassifierNeedsKey(t *testing.T) {
	_, err := NewAnthropicClassifier(AnthropicConfig{})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestUpdateVerbStems(t *testing.T) {
	for _, text := range []string{
		"modifying all my tasks to closed",
		"editing everything in the sprint",
		"setting task 4 priority to 1",
		"reset task 9 status to new",
		"Updated task 3 state -> closed",
		"changes for task 12 status to active",
	} {
		assert.True(t, HasUpdateVerb(text), text)
		got := Classifier{}.Classify(context.Background(), text)
		assert.Equal(t, domain.IntentTaskUpdate, got.Name, text)
	}
	for _, text := range []string{"show my tasks", "list my assets", "resolved bugs in sprint 3"} {
		assert.False(t, HasUpdateVerb(text), text)
	}
}

func TestCheckLeavesModelAlone(t *testing.T) {
	m := &fakeModel{label: "tasks"}
	assert.NoError(t, Classifier{Model: m}.Check())
	assert.Zero(t, m.calls)
}
