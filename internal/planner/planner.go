// Package planner turns validated entities into field update plans.
package planner

import (
	"fmt"
	"strconv"
	"strings"

	"taskline/internal/domain"
	"taskline/internal/safety"
)

// PlanError reports an accepted update that names no usable field change.
type PlanError struct {
	WorkItemID int
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("no field updates specified for work item %d", e.WorkItemID)
}

// UserMessage is the text shown to the user for this error.
func (e *PlanError) UserMessage() string {
	return fmt.Sprintf("Missing field updates for task %d. Please specify what fields to update.", e.WorkItemID)
}

// Plan builds one plan per accepted work item. verdict must be an accepted
// safety.Outcome for the same entities.
func Plan(e domain.EntityBag, verdict safety.Outcome) ([]domain.FieldUpdatePlan, error) {
	if !verdict.Accepted() || len(verdict.IDs) == 0 {
		return nil, fmt.Errorf("plan requires an accepted update, got %s", verdict.Kind)
	}
	if verdict.Batch {
		return planBatch(e, verdict.IDs)
	}
	p := planSingle(e, verdict.IDs[0])
	if len(p.Updates) == 0 {
		return nil, &PlanError{WorkItemID: p.WorkItemID}
	}
	return []domain.FieldUpdatePlan{p}, nil
}

func planBatch(e domain.EntityBag, ids []int) ([]domain.FieldUpdatePlan, error) {
	if len(ids) != len(e.BatchUpdates) {
		return nil, fmt.Errorf("batch has %d items but %d ids", len(e.BatchUpdates), len(ids))
	}
	plans := make([]domain.FieldUpdatePlan, 0, len(ids))
	for i, item := range e.BatchUpdates {
		if len(item.Updates) == 0 {
			return nil, &PlanError{WorkItemID: ids[i]}
		}
		updates := make([]domain.FieldUpdate, 0, len(item.Updates))
		for _, u := range item.Updates {
			if u.Field == domain.FieldStatus {
				if s, ok := u.Value.(string); ok {
					u.Value = strings.ToLower(s)
				}
			}
			updates = append(updates, u)
		}
		plans = append(plans, domain.FieldUpdatePlan{WorkItemID: ids[i], WorkItemType: "TASK", Updates: updates})
	}
	return plans, nil
}

// planSingle resolves a value for every named field: tagged captures first,
// then unbound dates in order of appearance for date fields.
func planSingle(e domain.EntityBag, id int) domain.FieldUpdatePlan {
	plan := domain.FieldUpdatePlan{WorkItemID: id, WorkItemType: e.WorkItemType}
	looseDates := unboundDates(e)

	for _, field := range e.FieldNames {
		raw, ok := e.Bound[field]
		if !ok {
			raw, ok = fallbackValue(e, field, &looseDates)
		}
		if !ok {
			continue
		}
		value, ok := coerce(field, raw)
		if !ok {
			continue
		}
		plan.Updates = append(plan.Updates, domain.FieldUpdate{Field: field, Value: value})
	}
	return plan
}

func fallbackValue(e domain.EntityBag, field domain.Field, looseDates *[]string) (string, bool) {
	switch {
	case field.IsDate():
		if len(*looseDates) == 0 {
			return "", false
		}
		v := (*looseDates)[0]
		*looseDates = (*looseDates)[1:]
		return v, true
	case field == domain.FieldStatus:
		if len(e.StatusValues) > 0 {
			return e.StatusValues[0], true
		}
		if e.Status != "" {
			return e.Status, true
		}
	case field == domain.FieldRemaining:
		return first(e.RemainingValues)
	case field == domain.FieldCompleted:
		return first(e.CompletedValues)
	case field == domain.FieldOriginalEstimate:
		return first(e.OriginalEstimateValues)
	case field == domain.FieldAssignedTo:
		return first(e.AssigneeValues)
	}
	return "", false
}

func first(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// unboundDates returns the dates in the text that no field keyword claimed.
func unboundDates(e domain.EntityBag) []string {
	claimed := map[string]int{}
	for _, f := range []domain.Field{domain.FieldStartDate, domain.FieldFinishDate} {
		if v, ok := e.Bound[f]; ok {
			claimed[v]++
		}
	}
	var loose []string
	for _, d := range e.DateValues {
		if claimed[d] > 0 {
			claimed[d]--
			continue
		}
		loose = append(loose, d)
	}
	return loose
}

// coerce converts a raw captured string to the field's canonical type.
func coerce(field domain.Field, raw string) (any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	switch field {
	case domain.FieldPriority:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 4 {
			return nil, false
		}
		return n, true
	case domain.FieldRemaining, domain.FieldCompleted, domain.FieldOriginalEstimate:
		if n, err := strconv.Atoi(raw); err == nil {
			if n < 0 {
				return nil, false
			}
			return n, true
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return nil, false
		}
		return f, true
	case domain.FieldStatus:
		return strings.ToLower(raw), true
	}
	return raw, true
}
