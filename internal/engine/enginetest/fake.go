// Package enginetest provides an in-memory work-item backend for tests.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"taskline/internal/domain"
)

// Patch is one recorded PatchWorkItem call.
type Patch struct {
	ID      int
	Updates []domain.FieldUpdate
}

// Backend records patches and serves canned query results. Types maps ids
// to work-item types; FailIDs makes patches of those ids fail.
type Backend struct {
	mu sync.Mutex

	Types        map[int]string
	FailIDs      map[int]string
	TypeErr      error
	Items        []domain.WorkItem
	PullRequests []domain.PullRequest
	QueryErr     error

	patches      []Patch
	itemFilters  []domain.WorkItemFilter
	prFilters    []domain.PullRequestFilter
	typeLookups  int
	panicOnPatch bool
}

func New() *Backend {
	return &Backend{Types: map[int]string{}, FailIDs: map[int]string{}}
}

// PanicOnPatch makes the next patches panic.
func (b *Backend) PanicOnPatch() {
	b.mu.Lock()
	b.panicOnPatch = true
	b.mu.Unlock()
}

func (b *Backend) PatchWorkItem(ctx context.Context, id int, updates []domain.FieldUpdate) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.panicOnPatch {
		panic("patch exploded")
	}
	b.patches = append(b.patches, Patch{ID: id, Updates: append([]domain.FieldUpdate(nil), updates...)})
	if msg, ok := b.FailIDs[id]; ok {
		return nil, fmt.Errorf("%s", msg)
	}
	fields := map[string]any{}
	for _, u := range updates {
		fields[string(u.Field)] = u.Value
	}
	return map[string]any{"id": id, "fields": fields}, nil
}

func (b *Backend) WorkItemType(ctx context.Context, id int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typeLookups++
	if b.TypeErr != nil {
		return "", b.TypeErr
	}
	if t, ok := b.Types[id]; ok {
		return t, nil
	}
	return "TASK", nil
}

func (b *Backend) QueryAssignedWorkItems(ctx context.Context, f domain.WorkItemFilter) ([]domain.WorkItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.itemFilters = append(b.itemFilters, f)
	return b.Items, b.QueryErr
}

func (b *Backend) QueryPullRequests(ctx context.Context, f domain.PullRequestFilter) ([]domain.PullRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prFilters = append(b.prFilters, f)
	return b.PullRequests, b.QueryErr
}

// Patches returns recorded patches sorted by id.
func (b *Backend) Patches() []Patch {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]Patch(nil), b.patches...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) PatchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.patches)
}

func (b *Backend) ItemFilters() []domain.WorkItemFilter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.WorkItemFilter(nil), b.itemFilters...)
}

func (b *Backend) PullRequestFilters() []domain.PullRequestFilter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.PullRequestFilter(nil), b.prFilters...)
}

func (b *Backend) TypeLookups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typeLookups
}
