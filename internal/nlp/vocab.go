package nlp

import (
	"regexp"
	"sort"
	"strings"

	"taskline/internal/domain"
)

type synonym struct {
	phrase string
	value  string
}

// fieldSynonyms maps user phrasing to canonical fields.
var fieldSynonyms = map[domain.Field][]string{
	domain.FieldStartDate:        {"start date", "startdate", "start"},
	domain.FieldFinishDate:       {"finish date", "finishdate", "finish", "end date", "enddate"},
	domain.FieldStatus:           {"status", "state"},
	domain.FieldPriority:         {"priority"},
	domain.FieldTitle:            {"title", "name"},
	domain.FieldDescription:      {"description", "desc"},
	domain.FieldAssignedTo:       {"assigned to", "assign to", "assigned", "assignee"},
	domain.FieldRemaining:        {"remaining work", "remaining"},
	domain.FieldCompleted:        {"completed work", "completed"},
	domain.FieldOriginalEstimate: {"original estimate", "originalestimate", "estimate"},
}

// statusVocabulary folds free-text status words into the closed token set.
var statusVocabulary = []synonym{
	{"in progress", "active"},
	{"in-progress", "active"},
	{"on hold", "blocked"},
	{"active", "active"},
	{"working", "active"},
	{"started", "active"},
	{"new", "new"},
	{"created", "new"},
	{"assigned", "new"},
	{"resolved", "resolved"},
	{"completed", "resolved"},
	{"done", "resolved"},
	{"finished", "resolved"},
	{"closed", "closed"},
	{"blocked", "blocked"},
	{"waiting", "blocked"},
	{"stuck", "blocked"},
}

var timePeriods = []string{
	"this week", "last week", "next week", "this sprint", "current sprint",
	"today", "tomorrow", "yesterday",
}

var priorityLevels = []synonym{
	{"high priority", "high"},
	{"urgent", "high"},
	{"critical", "high"},
	{"medium priority", "medium"},
	{"normal", "medium"},
	{"low priority", "low"},
	{"low", "low"},
}

var contextWords = []string{"sprint", "project", "feature", "bug", "story", "task"}

var taskTypes = []synonym{
	{"user story", "user_story"},
	{"story", "user_story"},
	{"feature", "user_story"},
	{"bug", "bug"},
	{"defect", "bug"},
	{"issue", "bug"},
	{"task", "task"},
	{"work item", "task"},
	{"epic", "epic"},
	{"large feature", "epic"},
}

// workItemTypes maps the id prefix the user typed to a backend work-item type.
var workItemTypes = map[string]string{
	"task":        "TASK",
	"user story":  "USER STORY",
	"story":       "USER STORY",
	"bug":         "BUG",
	"epic":        "EPIC",
	"requirement": "REQUIREMENT",
}

const datePattern = `(\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}-\d{1,2}-\d{4})`

var (
	fieldIndex   map[string]domain.Field
	fieldRe      *regexp.Regexp
	statusRe     *regexp.Regexp
	statusAtRe   *regexp.Regexp
	timePeriodRe *regexp.Regexp
	wordRes      map[string]*regexp.Regexp
	dateRe       = regexp.MustCompile(datePattern)
)

func init() {
	fieldIndex = map[string]domain.Field{}
	var phrases []string
	for field, syns := range fieldSynonyms {
		for _, s := range syns {
			fieldIndex[s] = field
			phrases = append(phrases, s)
		}
	}
	fieldRe = phraseRegexp("", phrases)

	var statuses []string
	for _, s := range statusVocabulary {
		statuses = append(statuses, s.phrase)
	}
	statusRe = phraseRegexp("", statuses)
	statusAtRe = phraseRegexp("^", statuses)
	timePeriodRe = phraseRegexp("", timePeriods)

	wordRes = map[string]*regexp.Regexp{}
	for _, w := range contextWords {
		wordRes[w] = wordRegexp(w)
	}
	for _, s := range append(append([]synonym(nil), priorityLevels...), taskTypes...) {
		wordRes[s.phrase] = wordRegexp(s.phrase)
	}
}

// phraseRegexp builds a case-insensitive, word-bounded alternation that
// prefers the longest phrase at any position.
func phraseRegexp(prefix string, phrases []string) *regexp.Regexp {
	sorted := append([]string(nil), phrases...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = strings.ReplaceAll(regexp.QuoteMeta(p), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)` + prefix + `\b(` + strings.Join(parts, "|") + `)\b`)
}

func canonicalPhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func lookupStatus(phrase string) (string, bool) {
	p := canonicalPhrase(phrase)
	for _, s := range statusVocabulary {
		if s.phrase == p {
			return s.value, true
		}
	}
	return "", false
}

// NormalizeStatusWord folds a status phrase into the closed token set, or
// lowercases it when the vocabulary does not know it.
func NormalizeStatusWord(word string) string {
	if v, ok := lookupStatus(word); ok {
		return v
	}
	return canonicalPhrase(word)
}

func wordRegexp(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + strings.ReplaceAll(regexp.QuoteMeta(phrase), " ", `\s+`) + `\b`)
}

func containsWord(lower, phrase string) bool {
	re, ok := wordRes[phrase]
	if !ok {
		re = wordRegexp(phrase)
	}
	return re.MatchString(lower)
}
