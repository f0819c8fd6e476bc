// Package safety gates every update request before anything is planned or
// dispatched. An update must name concrete numeric work-item ids; anything
// else is rejected with a message the user can act on.
package safety

import (
	"fmt"
	"strconv"
	"strings"

	"taskline/internal/domain"
)

type Kind string

const (
	Accept                Kind = "accept"
	RejectMalformedBatch  Kind = "malformed_batch"
	RejectMissingID       Kind = "missing_id"
	RejectInvalidIDFormat Kind = "invalid_id_format"
)

// Outcome is the validator's verdict. Accepted single updates carry the
// parsed id; accepted batches carry one id per item in input order.
type Outcome struct {
	Kind    Kind
	Batch   bool
	IDs     []int
	Message string
}

func (o Outcome) Accepted() bool { return o.Kind == Accept }

const malformedBatchMessage = `**Invalid Batch Update Format!**

Some tasks in your batch update have invalid or missing task IDs.

**Please ensure all tasks have valid ID numbers:**
• TASK 51311 -> Start Date -> 08/08/2025
• TASK 51312 -> Start Date -> 08/11/2025
• TASK 51310 -> Start Date -> 08/11/2025

Please correct the task IDs and try again.`

const missingIDMessage = `**Please provide the missing Work Item ID!**

I need a specific TASK, USER STORY, or REQUIREMENT number to update individual work items.

**Examples:**
• Update TASK-12345 Start Date -> 08/11/2025
• Update USER STORY-67890 Status -> Active
• Update REQUIREMENT-11111 Finish Date -> 08/12/2025

Please provide the specific work item ID and try again.`

const invalidIDMessage = `**Invalid Work Item ID Format**

The work item ID must be a valid number.

**Examples:**
• TASK-12345 (ID: 12345)
• USER STORY-67890 (ID: 67890)
• REQUIREMENT-11111 (ID: 11111)

Received: %s

Please provide a valid work item ID and try again.`

// Validate checks an intent in a fixed order: malformed batch, batch,
// missing id, invalid id. Intents other than task_update always pass.
func Validate(intent domain.Intent) Outcome {
	if intent.Name != domain.IntentTaskUpdate {
		return Outcome{Kind: Accept}
	}
	e := intent.Entities
	if e.BatchUpdateError {
		return malformed(e.BatchErrors)
	}
	if len(e.BatchUpdates) > 0 {
		ids := make([]int, 0, len(e.BatchUpdates))
		for _, item := range e.BatchUpdates {
			id, ok := ParseID(item.TaskID)
			if !ok {
				return malformed([]string{fmt.Sprintf("invalid task id %q", item.TaskID)})
			}
			ids = append(ids, id)
		}
		return Outcome{Kind: Accept, Batch: true, IDs: ids}
	}
	if strings.TrimSpace(e.TaskID) == "" {
		return Outcome{Kind: RejectMissingID, Message: missingIDMessage}
	}
	id, ok := ParseID(e.TaskID)
	if !ok {
		return Outcome{Kind: RejectInvalidIDFormat, Message: fmt.Sprintf(invalidIDMessage, e.TaskID)}
	}
	return Outcome{Kind: Accept, IDs: []int{id}}
}

func malformed(details []string) Outcome {
	msg := malformedBatchMessage
	if len(details) > 0 {
		msg += "\n\nProblems found:\n• " + strings.Join(details, "\n• ")
	}
	return Outcome{Kind: RejectMalformedBatch, Batch: true, Message: msg}
}

// ParseID accepts only a string of ASCII digits that fits a positive int.
func ParseID(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
