// Package tree assembles a user's flat task list into parents with their
// direct subtasks, and filters and pages the result.
package tree

import (
	"sort"

	"tasktree/app/models"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Build groups tasks under their parent. Roots and subtasks are ordered by
// creation time, newest first. A task whose parent is not in the set is
// returned as a root, as is anything nested deeper than one level.
func Build(tasks []models.Task) []models.Task {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}

	top := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if !t.IsSubtask() || !ids[*t.ParentID] {
			top[t.ID] = true
		}
	}

	children := make(map[string][]models.Task)
	var roots []models.Task
	for _, t := range tasks {
		if !top[t.ID] && top[*t.ParentID] {
			children[*t.ParentID] = append(children[*t.ParentID], t)
			continue
		}
		roots = append(roots, t)
	}

	for i := range roots {
		subs := children[roots[i].ID]
		sortNewestFirst(subs)
		if subs == nil {
			subs = []models.Task{}
		}
		roots[i].Subtasks = subs
	}
	sortNewestFirst(roots)
	return roots
}

// Attach sets task.Subtasks to subtasks, newest first.
func Attach(task *models.Task, subtasks []models.Task) {
	subs := append([]models.Task{}, subtasks...)
	sortNewestFirst(subs)
	task.Subtasks = subs
}

// Filter keeps the roots matching every set field of q. Subtasks are never
// filtered out so the gate always sees complete families.
func Filter(roots []models.Task, q models.TaskQuery) []models.Task {
	out := make([]models.Task, 0, len(roots))
	for _, t := range roots {
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if q.Priority != "" && t.Priority != q.Priority {
			continue
		}
		if !matchesFamily(t, q.Search) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesFamily(t models.Task, search string) bool {
	if t.Matches(search) {
		return true
	}
	for _, s := range t.Subtasks {
		if s.Matches(search) {
			return true
		}
	}
	return false
}

// Paginate slices roots into the requested page. Out-of-range values fall
// back to the defaults.
func Paginate(roots []models.Task, page, limit int) models.TaskPage {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	total := len(roots)
	pages := (total + limit - 1) / limit

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return models.TaskPage{
		Tasks: roots[start:end],
		Pagination: models.Pagination{
			CurrentPage:  page,
			TotalPages:   pages,
			TotalItems:   total,
			ItemsPerPage: limit,
		},
	}
}

func sortNewestFirst(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}
