package nlp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"taskline/internal/domain"
)

// ErrModelUnavailable is returned by a ModelClassifier that cannot answer.
var ErrModelUnavailable = errors.New("model classifier unavailable")

// ModelClassifier labels free text with a coarse intent name. It is only
// consulted when no update verb is present.
type ModelClassifier interface {
	Label(ctx context.Context, text string) (string, error)
}

const (
	updateWithID    = 0.8
	updateWithoutID = 0.6
	modelMapped     = 0.8
	modelUnmapped   = 0.5
	keywordMatch    = 0.6
	keywordDefault  = 0.3
)

// updateVerbRe matches any word starting with an update stem, so every
// inflection ("modifying", "edited", "reset") counts.
var updateVerbRe = regexp.MustCompile(`(?i)\b(?:re)?(?:updat|modif|chang|edit|set)\w*`)

type keywordGroup struct {
	intent domain.IntentName
	re     *regexp.Regexp
}

// keywordGroups are tried in order; the first hit wins.
var keywordGroups = []keywordGroup{
	{domain.IntentTimesheet, regexp.MustCompile(`(?i)\b(timesheets?|time|fill|submit)\b`)},
	{domain.IntentTasks, regexp.MustCompile(`(?i)\b(tasks?|work|items?|sprints?)\b`)},
	{domain.IntentMeetings, regexp.MustCompile(`(?i)\b(meetings?|calendar|schedule|calls?)\b`)},
	{domain.IntentPullRequests, regexp.MustCompile(`(?i)\b(pull\s+requests?|prs?|reviews?|code)\b`)},
	{domain.IntentSummary, regexp.MustCompile(`(?i)\b(summary|report|activity)\b`)},
}

// Classifier turns text into an Intent. Update routing is decided by rules
// alone; Model only refines the read-only intents.
type Classifier struct {
	Model  ModelClassifier
	Logger *zap.Logger
}

func (c Classifier) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// HasUpdateVerb reports whether text asks for a mutation.
func HasUpdateVerb(text string) bool {
	return updateVerbRe.MatchString(text)
}

func (c Classifier) Classify(ctx context.Context, text string) domain.Intent {
	if HasUpdateVerb(text) {
		entities := Extract(text, domain.IntentTaskUpdate)
		confidence := updateWithoutID
		if isDigits(entities.TaskID) || len(entities.BatchUpdates) > 0 {
			confidence = updateWithID
		}
		c.logger().Debug("classified by update verb",
			zap.String("intent", string(domain.IntentTaskUpdate)),
			zap.Float64("confidence", confidence))
		return domain.Intent{Name: domain.IntentTaskUpdate, Confidence: confidence, Entities: entities}
	}

	if c.Model != nil {
		label, err := c.Model.Label(ctx, text)
		switch {
		case err != nil:
			c.logger().Debug("model classifier failed, using keywords", zap.Error(err))
		default:
			name, ok := MapModelLabel(label)
			if name != domain.IntentTaskUpdate {
				confidence := modelUnmapped
				if ok {
					confidence = modelMapped
				}
				c.logger().Debug("classified by model",
					zap.String("label", label),
					zap.String("intent", string(name)),
					zap.Float64("confidence", confidence))
				return domain.Intent{Name: name, Confidence: confidence, Entities: Extract(text, name)}
			}
			c.logger().Debug("model proposed an update without an update verb, using keywords", zap.String("label", label))
		}
	}

	name, confidence := classifyByKeywords(text)
	c.logger().Debug("classified by keywords",
		zap.String("intent", string(name)),
		zap.Float64("confidence", confidence))
	return domain.Intent{Name: name, Confidence: confidence, Entities: Extract(text, name)}
}

// Check exercises the rule path only. The model is never called.
func (c Classifier) Check() error {
	if name, _ := classifyByKeywords("show my tasks"); name != domain.IntentTasks {
		return fmt.Errorf("keyword classifier returned %q", name)
	}
	if !HasUpdateVerb("update task 1 status to active") {
		return errors.New("update verb rule failed")
	}
	return nil
}

func classifyByKeywords(text string) (domain.IntentName, float64) {
	for _, g := range keywordGroups {
		if g.re.MatchString(text) {
			return g.intent, keywordMatch
		}
	}
	return domain.IntentTasks, keywordDefault
}

// MapModelLabel folds a free-form model answer into an intent name. The
// second result is false when nothing matched and tasks was assumed.
func MapModelLabel(label string) (domain.IntentName, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(l, "timesheet"):
		return domain.IntentTimesheet, true
	case strings.Contains(l, "task_update"), strings.Contains(l, "task update"),
		strings.Contains(l, "update"), strings.Contains(l, "modify"), strings.Contains(l, "change"):
		return domain.IntentTaskUpdate, true
	case strings.Contains(l, "task"):
		return domain.IntentTasks, true
	case strings.Contains(l, "meeting"), strings.Contains(l, "calendar"):
		return domain.IntentMeetings, true
	case strings.Contains(l, "pull request"), strings.Contains(l, "pull_request"), l == "pr" || strings.HasPrefix(l, "pr "):
		return domain.IntentPullRequests, true
	case strings.Contains(l, "summary"), strings.Contains(l, "report"):
		return domain.IntentSummary, true
	}
	return domain.IntentTasks, false
}
