// Package repository persists projects as one JSON file per project under
// {dataDir}/projects/{projectId}.json, with an in-memory index served for
// reads (spec §4.1).
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/atomicfile"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/project/models"
)

// Repository owns the projects subtree of the data directory.
type Repository struct {
	dir      string
	mu       sync.RWMutex
	projects map[string]*models.Project
	logger   *logger.Logger
}

// New creates a Repository rooted at {dataDir}/projects.
func New(dataDir string, log *logger.Logger) *Repository {
	return &Repository{
		dir:      filepath.Join(dataDir, "projects"),
		projects: make(map[string]*models.Project),
		logger:   log,
	}
}

// Initialize loads every project JSON file into memory, quarantining any
// file that fails to parse instead of aborting startup.
func (r *Repository) Initialize() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read projects dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		var p models.Project
		if err := atomicfile.ReadJSON(path, &p); err != nil {
			r.logger.Warn("quarantining corrupt project file", zap.String("path", path), zap.Error(err))
			if qerr := atomicfile.Quarantine(path); qerr != nil {
				r.logger.Error("failed to quarantine corrupt project file", zap.String("path", path), zap.Error(qerr))
			}
			continue
		}
		r.projects[p.ID] = &p
	}
	return nil
}

func (r *Repository) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

// Put creates or overwrites a project, persisting it before returning.
func (r *Repository) Put(p *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := atomicfile.WriteJSON(r.path(p.ID), p); err != nil {
		return fmt.Errorf("persist project %s: %w", p.ID, err)
	}
	r.projects[p.ID] = p
	return nil
}

// Get returns the project with the given id, or (nil, false).
func (r *Repository) Get(id string) (*models.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	return p, ok
}

// List returns every project, in no particular order.
func (r *Repository) List() []*models.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*models.Project, 0, len(r.projects))
	for _, p := range r.projects {
		result = append(result, p)
	}
	return result
}

// Delete removes a project's record and its on-disk file.
func (r *Repository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[id]; !ok {
		return fmt.Errorf("project not found: %s", id)
	}
	delete(r.projects, id)
	return atomicfile.Remove(r.path(id))
}
