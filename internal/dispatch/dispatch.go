// Package dispatch applies update plans against the work-item backend and
// aggregates per-item outcomes.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskline/internal/domain"
	"taskline/internal/planner"
)

// Patcher applies field updates to one work item.
type Patcher interface {
	PatchWorkItem(ctx context.Context, id int, updates []domain.FieldUpdate) (map[string]any, error)
}

// TypeLookup resolves the backend work-item type used for status legalization.
type TypeLookup interface {
	WorkItemType(ctx context.Context, id int) (string, error)
}

const DefaultConcurrency = 4

type Dispatcher struct {
	Backend     Patcher
	Types       TypeLookup
	States      planner.StateRules
	Concurrency int
	Logger      *zap.Logger
}

func (d Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Dispatch attempts every plan independently. A failed item never stops the
// others and outcomes come back in plan order.
func (d Dispatcher) Dispatch(ctx context.Context, plans []domain.FieldUpdatePlan) domain.BatchResult {
	outcomes := make([]domain.ItemOutcome, len(plans))
	if len(plans) == 1 {
		outcomes[0] = d.apply(ctx, plans[0])
		return domain.BatchResult{Outcomes: outcomes}
	}

	limit := d.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, plan := range plans {
		g.Go(func() error {
			outcomes[i] = d.applyRecovered(ctx, plan)
			return nil
		})
	}
	_ = g.Wait()
	return domain.BatchResult{Outcomes: outcomes}
}

// applyRecovered runs apply on a worker goroutine, where a panic would
// otherwise take the whole process down. The panic becomes the item's error.
func (d Dispatcher) applyRecovered(ctx context.Context, plan domain.FieldUpdatePlan) (out domain.ItemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger().Error("work item update panicked",
				zap.Int("work_item_id", plan.WorkItemID),
				zap.Any("panic", r))
			out = domain.ItemOutcome{WorkItemID: plan.WorkItemID, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return d.apply(ctx, plan)
}

func (d Dispatcher) apply(ctx context.Context, plan domain.FieldUpdatePlan) domain.ItemOutcome {
	out := domain.ItemOutcome{WorkItemID: plan.WorkItemID}
	if d.Backend == nil {
		out.Error = "work-item backend is not configured"
		return out
	}
	if len(plan.Updates) == 0 {
		out.Error = "no field updates specified"
		return out
	}
	if err := ctx.Err(); err != nil {
		out.Error = err.Error()
		return out
	}

	updates := d.prepare(ctx, plan)
	out.Updates = updates
	if _, err := d.Backend.PatchWorkItem(ctx, plan.WorkItemID, updates); err != nil {
		d.logger().Warn("work item update failed",
			zap.Int("work_item_id", plan.WorkItemID),
			zap.Error(err))
		out.Error = err.Error()
		return out
	}
	d.logger().Info("work item updated",
		zap.Int("work_item_id", plan.WorkItemID),
		zap.Int("fields", len(updates)))
	out.OK = true
	return out
}

// prepare normalizes dates and legalizes the status right before the patch.
// The type lookup only happens when a status is being written.
func (d Dispatcher) prepare(ctx context.Context, plan domain.FieldUpdatePlan) []domain.FieldUpdate {
	states := d.States
	if states == nil {
		states = planner.DefaultStateRules()
	}
	updates := make([]domain.FieldUpdate, 0, len(plan.Updates))
	for _, u := range plan.Updates {
		switch {
		case u.Field.IsDate():
			if s, ok := u.Value.(string); ok {
				u.Value = planner.NormalizeDate(s)
			}
		case u.Field == domain.FieldStatus:
			u.Value = states.Legalize(fmt.Sprint(u.Value), d.workItemType(ctx, plan))
		}
		updates = append(updates, u)
	}
	return updates
}

func (d Dispatcher) workItemType(ctx context.Context, plan domain.FieldUpdatePlan) string {
	if d.Types == nil {
		return plan.WorkItemType
	}
	t, err := d.Types.WorkItemType(ctx, plan.WorkItemID)
	if err != nil {
		d.logger().Warn("work item type lookup failed, using default state mapping",
			zap.Int("work_item_id", plan.WorkItemID),
			zap.Error(err))
		return ""
	}
	return t
}
