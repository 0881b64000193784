// Package repository persists tasks as one JSON file per task under
// {dataDir}/tasks/{projectId}/{taskId}.json (spec §4.1).
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/atomicfile"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/task/models"
)

// Repository owns the tasks subtree of the data directory, plus an in-memory
// secondary index by project for cheap listing queries (ListByParent scans
// every task) — an additive index; the JSON files remain the source of truth.
type Repository struct {
	dir    string
	mu     sync.RWMutex
	tasks  map[string]*models.Task
	byProj map[string]map[string]struct{}
	logger *logger.Logger
}

// New creates a Repository rooted at {dataDir}/tasks.
func New(dataDir string, log *logger.Logger) *Repository {
	return &Repository{
		dir:    filepath.Join(dataDir, "tasks"),
		tasks:  make(map[string]*models.Task),
		byProj: make(map[string]map[string]struct{}),
		logger: log,
	}
}

// Initialize walks every project subdirectory and loads its task files,
// quarantining any file that fails to parse instead of aborting startup, and
// migrating the deprecated scalar sessionStatus field into the map form.
func (r *Repository) Initialize() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read tasks dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, projEntry := range entries {
		if !projEntry.IsDir() {
			continue
		}
		projDir := filepath.Join(r.dir, projEntry.Name())
		files, err := os.ReadDir(projDir)
		if err != nil {
			r.logger.Warn("failed to read project task dir", zap.String("dir", projDir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			path := filepath.Join(projDir, f.Name())
			raw, err := migrateLegacy(path)
			if err != nil {
				r.logger.Warn("quarantining corrupt task file", zap.String("path", path), zap.Error(err))
				if qerr := atomicfile.Quarantine(path); qerr != nil {
					r.logger.Error("failed to quarantine corrupt task file", zap.String("path", path), zap.Error(qerr))
				}
				continue
			}
			r.index(raw)
		}
	}
	return nil
}

// migrateLegacy loads a task file, collapsing the deprecated scalar
// "sessionStatus" field (one status for the whole task) into
// taskSessionStatuses[sessionId] when present and the map field is absent.
func migrateLegacy(path string) (*models.Task, error) {
	var raw struct {
		models.Task
		LegacySessionStatus string `json:"sessionStatus,omitempty"`
	}
	if err := atomicfile.ReadJSON(path, &raw); err != nil {
		return nil, err
	}
	task := raw.Task
	if raw.LegacySessionStatus != "" && len(task.TaskSessionStatuses) == 0 && len(task.SessionIDs) == 1 {
		task.TaskSessionStatuses = map[string]models.SessionStatus{
			task.SessionIDs[0]: models.SessionStatus(raw.LegacySessionStatus),
		}
	}
	if task.TaskSessionStatuses == nil {
		task.TaskSessionStatuses = make(map[string]models.SessionStatus)
	}
	return &task, nil
}

func (r *Repository) index(t *models.Task) {
	r.tasks[t.ID] = t
	if r.byProj[t.ProjectID] == nil {
		r.byProj[t.ProjectID] = make(map[string]struct{})
	}
	r.byProj[t.ProjectID][t.ID] = struct{}{}
}

func (r *Repository) path(t *models.Task) string {
	return filepath.Join(r.dir, t.ProjectID, t.ID+".json")
}

// Put creates or overwrites a task, persisting it before returning.
func (r *Repository) Put(t *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := atomicfile.WriteJSON(r.path(t), t); err != nil {
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	r.index(t)
	return nil
}

// Get returns the task with the given id, or (nil, false).
func (r *Repository) Get(id string) (*models.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// ListByProject returns every task belonging to projectID.
func (r *Repository) ListByProject(projectID string) []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byProj[projectID]
	out := make([]*models.Task, 0, len(ids))
	for id := range ids {
		out = append(out, r.tasks[id])
	}
	return out
}

// ListByParent returns every task whose ParentID equals parentID.
func (r *Repository) ListByParent(parentID string) []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.ParentID == parentID {
			out = append(out, t)
		}
	}
	return out
}

// Delete removes a task's record and its on-disk file.
func (r *Repository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	delete(r.tasks, id)
	if projIndex := r.byProj[t.ProjectID]; projIndex != nil {
		delete(projIndex, id)
	}
	return atomicfile.Remove(r.path(t))
}
