package nlp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"taskline/internal/domain"
)

var (
	batchHeaderRe  = regexp.MustCompile(`(?i)update\s+following\s+individual\s+tasks`)
	batchLineRe    = regexp.MustCompile(`(?i)^\s*task\s+(\S+?)\s*->`)
	batchStartRe   = regexp.MustCompile(`(?i)\bstart\s*date\s*->\s*` + datePattern)
	batchFinishRe  = regexp.MustCompile(`(?i)\b(?:finish|end)\s*date\s*->\s*` + datePattern)
	batchStatusRe  = regexp.MustCompile(`(?i)\b(?:status|state)\s*->\s*(in[\s-]progress|on\s+hold|[A-Za-z]+)`)
)

// IsBatch reports whether any line of text carries the batch header.
func IsBatch(text string) bool {
	_, ok := batchHeaderLine(text)
	return ok
}

// batchHeaderLine returns the index of the first line holding the header.
// Lines before it are ignored; every line after it must be a batch line.
func batchHeaderLine(text string) (int, bool) {
	for i, line := range strings.Split(text, "\n") {
		if batchHeaderRe.MatchString(line) {
			return i, true
		}
	}
	return 0, false
}

// parseBatch reads one update per line after the header. Any bad line marks
// the whole batch as malformed and no items are returned.
func parseBatch(text string) ([]domain.BatchItem, []string, bool) {
	header, ok := batchHeaderLine(text)
	if !ok {
		return nil, nil, false
	}
	lines := strings.Split(text, "\n")
	var items []domain.BatchItem
	var errs []string
	for i := header + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		item, err := parseBatchLine(line)
		if err != "" {
			errs = append(errs, fmt.Sprintf("line %d: %s: %s", i+1, err, line))
			continue
		}
		items = append(items, item)
	}
	if len(errs) == 0 && len(items) == 0 {
		errs = append(errs, "no task lines follow the batch header")
	}
	if len(errs) > 0 {
		return nil, errs, true
	}
	return items, nil, true
}

func parseBatchLine(line string) (domain.BatchItem, string) {
	m := batchLineRe.FindStringSubmatchIndex(line)
	if m == nil {
		return domain.BatchItem{}, "expected 'TASK <number> ->'"
	}
	id := line[m[2]:m[3]]
	if n, err := strconv.Atoi(id); err != nil || n <= 0 || !isDigits(id) {
		return domain.BatchItem{}, fmt.Sprintf("invalid task id %q", id)
	}
	rest := line[m[1]:]
	item := domain.BatchItem{TaskID: id}
	if v := batchStartRe.FindStringSubmatch(rest); v != nil {
		item.Updates = append(item.Updates, domain.FieldUpdate{Field: domain.FieldStartDate, Value: v[1]})
	}
	if v := batchFinishRe.FindStringSubmatch(rest); v != nil {
		item.Updates = append(item.Updates, domain.FieldUpdate{Field: domain.FieldFinishDate, Value: v[1]})
	}
	if v := batchStatusRe.FindStringSubmatch(rest); v != nil {
		item.Updates = append(item.Updates, domain.FieldUpdate{Field: domain.FieldStatus, Value: NormalizeStatusWord(v[1])})
	}
	if len(item.Updates) == 0 {
		return domain.BatchItem{}, "no recognised field updates"
	}
	return item, ""
}
