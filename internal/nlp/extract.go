package nlp

import (
	"regexp"
	"strings"

	"taskline/internal/domain"
)

var (
	workItemIDRe  = regexp.MustCompile(`(?i)\[?\b(user\s+story|task|story|bug|epic|requirement)(?:\s*-\s*|\s+)(\d+)\b\]?`)
	malformedIDRe = regexp.MustCompile(`(?i)\[?\b(user\s+story|task|story|bug|epic|requirement)\s*-\s*([^\s\]]+)`)

	currentSprintRe = regexp.MustCompile(`(?i)\b(?:current|this)\s+sprint\b`)
	sprintNumberRe  = regexp.MustCompile(`(?i)\bsprint\s+(\d+)\b`)
	sprintNameRe    = regexp.MustCompile(`(?i)\bsprint\s+(\w+)`)
	personRe        = regexp.MustCompile(`\b(?i:with)\s+([A-Z][a-z]+)`)

	separator     = `^\s*(?:->|=>|:|=|to\b|as\b)?\s*`
	dateValueRe   = regexp.MustCompile(`(?i)` + separator + datePattern)
	numberValueRe = regexp.MustCompile(`(?i)^\s*(?:(?:work|hours|hrs)\b\s*)?(?:->|=>|:|=|to\b)?\s*(\d+(?:\.\d+)?)\b`)
	quotedValueRe = regexp.MustCompile(`(?i)` + separator + `(?:"([^"]+)"|'([^']+)')`)
	statusSepRe   = regexp.MustCompile(`(?i)^\s*(->|=>|:|=|to\b|as\b)?\s*`)
	rawWordRe     = regexp.MustCompile(`^([A-Za-z]+)`)
)

type capture struct {
	field domain.Field
	value string
	end   int
}

type span struct{ start, end int }

func (s span) contains(start, end int) bool { return start >= s.start && end <= s.end }

// Extract pulls every recognisable signal out of text. It never fails:
// unrecognised input simply leaves fields empty. Field names, values and
// batch lines are only read for update intents.
func Extract(text string, intent domain.IntentName) domain.EntityBag {
	var bag domain.EntityBag
	lower := strings.ToLower(text)

	extractAmbient(text, lower, &bag)

	if intent == domain.IntentTaskUpdate {
		if items, errs, ok := parseBatch(text); ok {
			if len(errs) > 0 {
				bag.BatchUpdateError = true
				bag.BatchErrors = errs
			} else {
				bag.BatchUpdates = items
			}
			return bag
		}
	}

	extractWorkItemID(text, &bag)

	if intent == domain.IntentTaskUpdate {
		extractFields(text, &bag)
	}
	return bag
}

func extractWorkItemID(text string, bag *domain.EntityBag) {
	if m := workItemIDRe.FindStringSubmatch(text); m != nil {
		bag.TaskID = m[2]
		bag.WorkItemType = workItemTypes[canonicalPhrase(m[1])]
		return
	}
	if m := malformedIDRe.FindStringSubmatch(text); m != nil {
		bag.TaskID = m[2]
		bag.WorkItemType = workItemTypes[canonicalPhrase(m[1])]
	}
}

// extractFields binds each field keyword to the value written right after it
// and records field names in order of first mention.
func extractFields(text string, bag *domain.EntityBag) {
	var captures []capture
	var keywordSpans []span
	consumed := 0
	seen := map[domain.Field]bool{}

	for _, loc := range fieldRe.FindAllStringIndex(text, -1) {
		if loc[0] < consumed {
			continue
		}
		field := fieldIndex[canonicalPhrase(text[loc[0]:loc[1]])]
		keywordSpans = append(keywordSpans, span{loc[0], loc[1]})
		if !seen[field] {
			seen[field] = true
			bag.FieldNames = append(bag.FieldNames, field)
		}
		if c, ok := captureValue(field, text, loc[1]); ok {
			captures = append(captures, c)
			consumed = c.end
		}
	}

	// Date fields named without a value each ("start date and finish date
	// to A and B") take the dates positionally, so no date stays bound.
	zipDates := countDateFields(bag.FieldNames) > countDateCaptures(captures)
	for _, c := range captures {
		if zipDates && c.field.IsDate() {
			continue
		}
		if bag.Bound == nil {
			bag.Bound = map[domain.Field]string{}
		}
		if _, ok := bag.Bound[c.field]; !ok {
			bag.Bound[c.field] = c.value
		}
		switch c.field {
		case domain.FieldRemaining:
			bag.RemainingValues = append(bag.RemainingValues, c.value)
		case domain.FieldCompleted:
			bag.CompletedValues = append(bag.CompletedValues, c.value)
		case domain.FieldOriginalEstimate:
			bag.OriginalEstimateValues = append(bag.OriginalEstimateValues, c.value)
		case domain.FieldAssignedTo:
			bag.AssigneeValues = append(bag.AssigneeValues, c.value)
		}
	}

	bag.DateValues = dateRe.FindAllString(text, -1)

	statusSeen := map[string]bool{}
	for _, loc := range statusRe.FindAllStringIndex(text, -1) {
		if insideAny(keywordSpans, loc[0], loc[1]) {
			continue
		}
		token, _ := lookupStatus(text[loc[0]:loc[1]])
		if !statusSeen[token] {
			statusSeen[token] = true
			bag.StatusValues = append(bag.StatusValues, token)
		}
	}
	bag.Status = ""
	if len(bag.StatusValues) > 0 {
		bag.Status = bag.StatusValues[0]
	}
}

func countDateFields(fields []domain.Field) int {
	n := 0
	for _, f := range fields {
		if f.IsDate() {
			n++
		}
	}
	return n
}

func countDateCaptures(captures []capture) int {
	seen := map[domain.Field]bool{}
	for _, c := range captures {
		if c.field.IsDate() {
			seen[c.field] = true
		}
	}
	return len(seen)
}

func insideAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if s.contains(start, end) {
			return true
		}
	}
	return false
}

// captureValue reads the value that follows a field keyword ending at pos.
func captureValue(field domain.Field, text string, pos int) (capture, bool) {
	rest := text[pos:]
	switch {
	case field.IsDate():
		if m := dateValueRe.FindStringSubmatchIndex(rest); m != nil {
			return capture{field: field, value: rest[m[2]:m[3]], end: pos + m[1]}, true
		}
	case field.IsNumeric():
		if m := numberValueRe.FindStringSubmatchIndex(rest); m != nil && !continuesAsDate(rest[m[1]:]) {
			return capture{field: field, value: rest[m[2]:m[3]], end: pos + m[1]}, true
		}
	case field == domain.FieldStatus:
		return captureStatus(text, pos)
	default:
		if m := quotedValueRe.FindStringSubmatchIndex(rest); m != nil {
			value := ""
			if m[2] >= 0 {
				value = rest[m[2]:m[3]]
			} else {
				value = rest[m[4]:m[5]]
			}
			return capture{field: field, value: strings.TrimSpace(value), end: pos + m[1]}, true
		}
	}
	return capture{}, false
}

// captureStatus accepts a known status phrase with or without a separator,
// and any other single word only after an explicit separator.
func captureStatus(text string, pos int) (capture, bool) {
	rest := text[pos:]
	sep := statusSepRe.FindStringSubmatchIndex(rest)
	hasSep := sep[2] >= 0
	after := rest[sep[1]:]
	if m := statusAtRe.FindStringIndex(after); m != nil {
		token, _ := lookupStatus(after[m[0]:m[1]])
		return capture{field: domain.FieldStatus, value: token, end: pos + sep[1] + m[1]}, true
	}
	if !hasSep {
		return capture{}, false
	}
	if m := rawWordRe.FindStringIndex(after); m != nil {
		return capture{field: domain.FieldStatus, value: strings.ToLower(after[m[0]:m[1]]), end: pos + sep[1] + m[1]}, true
	}
	return capture{}, false
}

func extractAmbient(text, lower string, bag *domain.EntityBag) {
	if m := timePeriodRe.FindString(text); m != "" {
		bag.TimePeriod = canonicalPhrase(m)
	}

	switch {
	case currentSprintRe.MatchString(text):
		bag.Sprint = "current"
	case sprintNumberRe.MatchString(text):
		bag.Sprint = sprintNumberRe.FindStringSubmatch(text)[1]
	case sprintNameRe.MatchString(text):
		bag.Sprint = strings.ToLower(sprintNameRe.FindStringSubmatch(text)[1])
	}

	if m := statusRe.FindString(text); m != "" {
		bag.Status, _ = lookupStatus(m)
	}

	if m := personRe.FindStringSubmatch(text); m != nil {
		bag.Person = m[1]
	}

	for _, w := range contextWords {
		if containsWord(lower, w) {
			bag.Context = w
			break
		}
	}
	for _, p := range priorityLevels {
		if containsWord(lower, p.phrase) {
			bag.Priority = p.value
			break
		}
	}
	for _, t := range taskTypes {
		if containsWord(lower, t.phrase) {
			bag.TaskType = t.value
			break
		}
	}
}

// continuesAsDate reports whether a number is really the head of a date.
func continuesAsDate(rest string) bool {
	return len(rest) > 1 && (rest[0] == '/' || rest[0] == '-') && rest[1] >= '0' && rest[1] <= '9'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
