// Package memory provides an in-memory implementation of
// linkaudit.Repository for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// Repository is a mutex-guarded map-backed implementation of
// linkaudit.Repository.
type Repository struct {
	mu     sync.RWMutex
	links  map[string]linkaudit.Link
	sheets map[string]linkaudit.Sheet
	// userPriority maps user id to its plan-derived priority level.
	userPriority map[string]int
}

// New constructs an empty Repository. GetUserPriority returns
// linkaudit.PriorityFree for users absent from userPriority.
func New(userPriority map[string]int) *Repository {
	if userPriority == nil {
		userPriority = make(map[string]int)
	}
	return &Repository{
		links:        make(map[string]linkaudit.Link),
		sheets:       make(map[string]linkaudit.Sheet),
		userPriority: userPriority,
	}
}

func (r *Repository) GetLink(_ context.Context, id string) (*linkaudit.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[id]
	if !ok {
		return nil, fmt.Errorf("link %s not found", id)
	}
	return &link, nil
}

func (r *Repository) UpsertLink(_ context.Context, link linkaudit.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[link.ID] = link
	return nil
}

// ResetAnalysis deletes every link row for projectID/kind, per the
// scheduler's "delete any prior sheet-kind links before creating new
// rows" step and the queue's happens-before barrier between runs.
func (r *Repository) ResetAnalysis(_ context.Context, projectID string, kind linkaudit.JobKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, link := range r.links {
		if link.ProjectID == projectID && link.Kind == kind {
			delete(r.links, id)
		}
	}
	return nil
}

func (r *Repository) ListByProjectAndKind(_ context.Context, projectID string, kind linkaudit.JobKind) ([]linkaudit.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []linkaudit.Link
	for _, link := range r.links {
		if link.ProjectID == projectID && link.Kind == kind {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) CountOpen(_ context.Context, projectID string, kind linkaudit.JobKind) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, link := range r.links {
		if link.ProjectID != projectID || link.Kind != kind {
			continue
		}
		if link.State == linkaudit.LinkStatePending || link.State == linkaudit.LinkStateRunning {
			count++
		}
	}
	return count, nil
}

func (r *Repository) GetSheet(_ context.Context, id string) (*linkaudit.Sheet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sheet, ok := r.sheets[id]
	if !ok {
		return nil, fmt.Errorf("sheet %s not found", id)
	}
	return &sheet, nil
}

func (r *Repository) UpdateSheet(_ context.Context, sheet linkaudit.Sheet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sheets[sheet.ID] = sheet
	return nil
}

func (r *Repository) ListActiveSheets(_ context.Context) ([]linkaudit.Sheet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []linkaudit.Sheet
	for _, sheet := range r.sheets {
		if sheet.Interval != linkaudit.IntervalManual && sheet.Status != linkaudit.SheetStatusInactive {
			out = append(out, sheet)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextRun == nil {
			return false
		}
		if out[j].NextRun == nil {
			return true
		}
		return out[i].NextRun.Before(*out[j].NextRun)
	})
	return out, nil
}

func (r *Repository) GetUserPriority(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.userPriority[userID]; ok {
		return p, nil
	}
	return linkaudit.PriorityFree, nil
}

// SetUserPriority is a test/seed helper absent from the capability
// interface.
func (r *Repository) SetUserPriority(userID string, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userPriority[userID] = priority
}
