package engine

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
	"go.uber.org/zap"
)

// Update pipeline states. Untyped so they convert to statekit.StateID.
const (
	StateReceived   = "received"
	StateClassified = "classified"
	StateValidated  = "validated"
	StateRejected   = "rejected"
	StatePlanned    = "planned"
	StatePlanError  = "plan_error"
	StateDispatched = "dispatched"
	StateReported   = "reported"
)

const (
	eventClassify = "classify"
	eventAccept   = "accept"
	eventReject   = "reject"
	eventPlan     = "plan"
	eventPlanFail = "plan_fail"
	eventDispatch = "dispatch"
	eventReport   = "report"
)

type pipelineContext struct {
	QueryID string
	Ready   func(event string) bool
}

// pipeline tracks one task_update query from receipt to report. Terminal
// states have no outgoing transitions.
type pipeline struct {
	interpreter *statekit.Interpreter[pipelineContext]
	logger      *zap.Logger
	queryID     string
}

func newPipeline(queryID string, ready func(string) bool, logger *zap.Logger) (*pipeline, error) {
	if ready == nil {
		ready = func(string) bool { return true }
	}
	builder := statekit.NewMachine[pipelineContext]("update-pipeline").
		WithInitial(statekit.StateID(StateReceived)).
		WithContext(pipelineContext{QueryID: queryID, Ready: ready}).
		WithGuard("ready", func(ctx pipelineContext, e statekit.Event) bool {
			return ctx.Ready(string(e.Type))
		})

	builder.State(StateReceived).
		On(eventClassify).Target(StateClassified).
		Done()

	builder.State(StateClassified).
		On(eventAccept).Target(StateValidated).
		On(eventReject).Target(StateRejected).
		Done()

	builder.State(StateValidated).
		On(eventPlan).Target(StatePlanned).
		On(eventPlanFail).Target(StatePlanError).
		Done()

	builder.State(StatePlanned).
		On(eventDispatch).Target(StateDispatched).Guard("ready").
		Done()

	builder.State(StateDispatched).
		On(eventReport).Target(StateReported).
		Done()

	builder.State(StateRejected).Done()
	builder.State(StatePlanError).Done()
	builder.State(StateReported).Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build update pipeline: %w", err)
	}
	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()
	return &pipeline{interpreter: interpreter, logger: logger, queryID: queryID}, nil
}

// fire sends event and fails when the machine refused to move.
func (p *pipeline) fire(event string) error {
	before := p.Current()
	p.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := p.Current()
	if before == after {
		return fmt.Errorf("event %q not allowed in state %q", event, before)
	}
	p.logger.Debug("pipeline transition",
		zap.String("query_id", p.queryID),
		zap.String("from", before),
		zap.String("to", after))
	return nil
}

func (p *pipeline) Current() string {
	return string(p.interpreter.State().Value)
}
