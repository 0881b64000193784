// Package repository persists team members. Custom members live at
// {dataDir}/team-members/{projectId}/{tmId}.json; user overrides of the two
// built-in defaults live alongside as
// {dataDir}/team-members/{projectId}/{tmId}.override.json (spec §4.1, §3).
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/atomicfile"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/teammember/models"
)

const overrideSuffix = ".override.json"

// Repository owns the team-members subtree of the data directory.
type Repository struct {
	dir       string
	mu        sync.RWMutex
	members   map[string]*models.TeamMember
	overrides map[string]*models.Override
	byProj    map[string]map[string]struct{}
	logger    *logger.Logger
}

// New creates a Repository rooted at {dataDir}/team-members.
func New(dataDir string, log *logger.Logger) *Repository {
	return &Repository{
		dir:       filepath.Join(dataDir, "team-members"),
		members:   make(map[string]*models.TeamMember),
		overrides: make(map[string]*models.Override),
		byProj:    make(map[string]map[string]struct{}),
		logger:    log,
	}
}

// Initialize loads every custom member and override file into memory,
// quarantining files that fail to parse.
func (r *Repository) Initialize() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read team-members dir: %w", err)
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
			r.logger.Warn("failed to read project team-members dir", zap.String("dir", projDir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			path := filepath.Join(projDir, f.Name())
			switch {
			case strings.HasSuffix(f.Name(), overrideSuffix):
				id := strings.TrimSuffix(f.Name(), overrideSuffix)
				var o models.Override
				if err := atomicfile.ReadJSON(path, &o); err != nil {
					r.logger.Warn("quarantining corrupt override file", zap.String("path", path), zap.Error(err))
					if qerr := atomicfile.Quarantine(path); qerr != nil {
						r.logger.Error("failed to quarantine corrupt override file", zap.String("path", path), zap.Error(qerr))
					}
					continue
				}
				r.overrides[id] = &o
			case strings.HasSuffix(f.Name(), ".json"):
				var m models.TeamMember
				if err := atomicfile.ReadJSON(path, &m); err != nil {
					r.logger.Warn("quarantining corrupt team member file", zap.String("path", path), zap.Error(err))
					if qerr := atomicfile.Quarantine(path); qerr != nil {
						r.logger.Error("failed to quarantine corrupt team member file", zap.String("path", path), zap.Error(qerr))
					}
					continue
				}
				r.index(&m)
			}
		}
	}
	return nil
}

func (r *Repository) index(m *models.TeamMember) {
	r.members[m.ID] = m
	if r.byProj[m.ProjectID] == nil {
		r.byProj[m.ProjectID] = make(map[string]struct{})
	}
	r.byProj[m.ProjectID][m.ID] = struct{}{}
}

func (r *Repository) memberPath(m *models.TeamMember) string {
	return filepath.Join(r.dir, m.ProjectID, m.ID+".json")
}

func (r *Repository) overridePath(projectID, id string) string {
	return filepath.Join(r.dir, projectID, id+overrideSuffix)
}

// PutMember creates or overwrites a team member record (default or custom).
func (r *Repository) PutMember(m *models.TeamMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := atomicfile.WriteJSON(r.memberPath(m), m); err != nil {
		return fmt.Errorf("persist team member %s: %w", m.ID, err)
	}
	r.index(m)
	return nil
}

// GetMember returns the base record for id (without override applied).
func (r *Repository) GetMember(id string) (*models.TeamMember, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

// ListByProject returns every base member record for a project.
func (r *Repository) ListByProject(projectID string) []*models.TeamMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byProj[projectID]
	out := make([]*models.TeamMember, 0, len(ids))
	for id := range ids {
		out = append(out, r.members[id])
	}
	return out
}

// DeleteMember removes a custom member's record and file.
func (r *Repository) DeleteMember(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("team member not found: %s", id)
	}
	delete(r.members, id)
	if projIndex := r.byProj[m.ProjectID]; projIndex != nil {
		delete(projIndex, id)
	}
	return atomicfile.Remove(r.memberPath(m))
}

// PutOverride writes (or overwrites) the override patch for a default member.
func (r *Repository) PutOverride(projectID, id string, o *models.Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := atomicfile.WriteJSON(r.overridePath(projectID, id), o); err != nil {
		return fmt.Errorf("persist override %s: %w", id, err)
	}
	r.overrides[id] = o
	return nil
}

// GetOverride returns the override patch for id, or (nil, false).
func (r *Repository) GetOverride(id string) (*models.Override, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.overrides[id]
	return o, ok
}

// DeleteOverride removes a default member's override file ("reset").
func (r *Repository) DeleteOverride(projectID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.overrides[id]; !ok {
		return nil
	}
	delete(r.overrides, id)
	return atomicfile.Remove(r.overridePath(projectID, id))
}
