package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskline/internal/ado"
	"taskline/internal/dispatch"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/nlp"
	"taskline/internal/planner"
	"taskline/internal/safety"
	"taskline/internal/secrets"
)

// Backend is everything the engine needs from the work-item tracker.
type Backend interface {
	dispatch.Patcher
	dispatch.TypeLookup
	QueryAssignedWorkItems(ctx context.Context, f domain.WorkItemFilter) ([]domain.WorkItem, error)
	QueryPullRequests(ctx context.Context, f domain.PullRequestFilter) ([]domain.PullRequest, error)
}

// Auditor receives one record per update decision.
type Auditor interface {
	Record(ctx context.Context, rec events.Record) error
}

const (
	failurePrefix = "I'm sorry, I couldn't complete your request. "
	apology       = "I'm sorry, I encountered an error processing your request. Please try again."
)

type Engine struct {
	Classifier  nlp.Classifier
	Backend     Backend
	BackendErr  error
	States      planner.StateRules
	Concurrency int
	Audit       Auditor
	Secrets     secrets.Source
	Logger      *zap.Logger
	Now         func() time.Time
	NewID       func() string
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

type actorKey struct{}

// WithActor tags ctx with the caller recorded in the audit log.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "local-user"
}

// Process answers one user query. It never returns an error: every failure,
// including a panic below this point, becomes a result with Success=false.
// The exchange is appended to conv when conv is not nil.
func (e Engine) Process(ctx context.Context, conv *Conversation, text string) (res domain.Result) {
	queryID := e.newID()
	log := e.logger().With(zap.String("query_id", queryID))
	var intent domain.Intent

	defer func() {
		if r := recover(); r != nil {
			log.Error("query processing panicked", zap.Any("panic", r))
			res = domain.Result{
				Success:  false,
				Response: apology,
				Intent:   intent.Name,
				ToolUsed: ToolFor(intent.Name),
				Metadata: domain.ResultMetadata{QueryID: queryID, Entities: intent.Entities},
			}
		}
		if conv != nil {
			conv.Append(domain.HistoryEntry{
				UserInput:  text,
				Intent:     res.Intent,
				Confidence: res.Confidence,
				Entities:   res.Metadata.Entities,
				Response:   res.Response,
				Success:    res.Success,
				Timestamp:  e.now().UTC(),
			})
		}
	}()

	intent = e.Classifier.Classify(ctx, text)
	tool := ToolFor(intent.Name)
	log.Info("query classified",
		zap.String("intent", string(intent.Name)),
		zap.Float64("confidence", intent.Confidence),
		zap.String("tool", tool))

	var out toolResult
	switch intent.Name {
	case domain.IntentTaskUpdate:
		out = e.update(ctx, log, queryID, intent)
	case domain.IntentTasks:
		out = e.listWorkItems(ctx, intent.Entities)
	case domain.IntentPullRequests:
		out = e.listPullRequests(ctx, intent.Entities)
	default:
		out = placeholder(tool, intent)
	}
	if intent.Name != domain.IntentTaskUpdate {
		e.record(ctx, events.Record{
			Type:       events.TypeQueryAnswered,
			QueryID:    queryID,
			EntityKind: "query",
			EntityID:   queryID,
			Payload:    events.EventPayload{"intent": intent.Name, "tool": tool, "ok": out.ok},
		})
	}

	response := out.message
	if !out.ok {
		response = failurePrefix + out.message
	}
	return domain.Result{
		Success:    out.ok,
		Response:   response,
		Intent:     intent.Name,
		Confidence: intent.Confidence,
		ToolUsed:   tool,
		Metadata: domain.ResultMetadata{
			QueryID:   queryID,
			Entities:  intent.Entities,
			State:     out.state,
			Rejection: out.reject,
			Outcomes:  out.outcomes,
		},
	}
}

// update runs validate, plan, dispatch and report for a task_update intent.
// Nothing reaches the backend unless the validator accepted the request.
func (e Engine) update(ctx context.Context, log *zap.Logger, queryID string, intent domain.Intent) toolResult {
	var plans []domain.FieldUpdatePlan
	p, err := newPipeline(queryID, func(event string) bool {
		return event != eventDispatch || len(plans) > 0
	}, log)
	if err != nil {
		panic(err)
	}
	must := func(event string) {
		if err := p.fire(event); err != nil {
			panic(err)
		}
	}
	must(eventClassify)

	verdict := safety.Validate(intent)
	if !verdict.Accepted() {
		must(eventReject)
		log.Info("update rejected", zap.String("rejection", string(verdict.Kind)))
		e.record(ctx, events.Record{
			Type:       events.TypeUpdateRejected,
			QueryID:    queryID,
			EntityKind: "query",
			Payload:    events.EventPayload{"rejection": string(verdict.Kind), "task_id": intent.Entities.TaskID},
		})
		return toolResult{message: verdict.Message, state: p.Current(), reject: string(verdict.Kind)}
	}
	must(eventAccept)

	plans, err = planner.Plan(intent.Entities, verdict)
	if err != nil {
		must(eventPlanFail)
		msg := err.Error()
		var planErr *planner.PlanError
		if errors.As(err, &planErr) {
			msg = planErr.UserMessage()
		}
		log.Info("update plan failed", zap.Error(err))
		e.record(ctx, events.Record{
			Type:       events.TypeUpdatePlanError,
			QueryID:    queryID,
			EntityKind: "query",
			Payload:    events.EventPayload{"error": err.Error()},
		})
		return toolResult{message: msg, state: p.Current(), reject: "no_field_updates"}
	}
	must(eventPlan)

	if e.Backend == nil {
		out := e.backendUnavailable()
		out.state = p.Current()
		return out
	}

	must(eventDispatch)
	d := dispatch.Dispatcher{
		Backend:     e.Backend,
		Types:       e.Backend,
		States:      e.States,
		Concurrency: e.Concurrency,
		Logger:      log,
	}
	result := d.Dispatch(ctx, plans)
	for _, o := range result.Outcomes {
		rec := events.Record{
			Type:       events.TypeWorkItemPatched,
			QueryID:    queryID,
			EntityKind: "work_item",
			EntityID:   strconv.Itoa(o.WorkItemID),
			Payload:    events.EventPayload{"updates": o.Updates},
		}
		if !o.OK {
			rec.Type = events.TypeWorkItemFailed
			rec.Payload["error"] = o.Error
		}
		e.record(ctx, rec)
	}
	must(eventReport)

	msg, ok := dispatch.Report(result, verdict.Batch)
	return toolResult{ok: ok, message: msg, state: p.Current(), outcomes: result.Outcomes}
}

func (e Engine) record(ctx context.Context, rec events.Record) {
	if e.Audit == nil {
		return
	}
	rec.ActorID = ActorFrom(ctx)
	if err := e.Audit.Record(ctx, rec); err != nil {
		e.logger().Warn("audit record failed", zap.String("type", rec.Type), zap.Error(err))
	}
}

type userMessenger interface {
	UserMessage() string
}

func (e Engine) backendUnavailable() toolResult {
	var um userMessenger
	if errors.As(e.BackendErr, &um) {
		return toolResult{message: um.UserMessage()}
	}
	if e.BackendErr != nil {
		return toolResult{message: fmt.Sprintf("Failed to configure Azure DevOps: %v", e.BackendErr)}
	}
	return toolResult{message: "Azure DevOps tool is not available."}
}

// Health summarises the engine's collaborators.
type Health struct {
	Status      string           `json:"status"`
	Classifier  string           `json:"classifier"`
	Model       bool             `json:"model_classifier"`
	AzureDevOps ado.HealthStatus `json:"azure_devops"`
	Secrets     map[string]bool  `json:"secrets,omitempty"`
	Tools       []ToolInfo       `json:"tools"`
	Checked     time.Time        `json:"checked"`
}

type healthChecker interface {
	Health(ctx context.Context) ado.HealthStatus
}

func (e Engine) Health(ctx context.Context) Health {
	h := Health{Status: "healthy", Classifier: "ok", Tools: e.Tools(), Checked: e.now().UTC()}
	h.Model = e.Classifier.Model != nil
	if err := e.Classifier.Check(); err != nil {
		e.logger().Warn("classifier check failed", zap.Error(err))
		h.Classifier = "failed"
		h.Status = "unhealthy"
	}
	switch hc, ok := e.Backend.(healthChecker); {
	case e.Backend == nil:
		h.AzureDevOps = ado.HealthStatus{Status: "not_configured"}
		if e.BackendErr != nil {
			h.AzureDevOps.Error = e.BackendErr.Error()
		}
	case ok:
		h.AzureDevOps = hc.Health(ctx)
	default:
		h.AzureDevOps = ado.HealthStatus{Status: "unknown"}
	}
	if e.Secrets != nil {
		h.Secrets = map[string]bool{}
		for _, name := range []string{secrets.AzureDevOpsToken, secrets.AnthropicAPIKey, secrets.JWTSecret} {
			_, ok := e.Secrets.GetSecret(name)
			h.Secrets[name] = ok
		}
	}
	return h
}
