// Package repository persists sessions as one JSON file per session under
// {dataDir}/sessions/{projectId}/{sessionId}.json, with the spawn manifest
// written alongside at {dataDir}/sessions/{projectId}/{sessionId}/manifest.json.
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/atomicfile"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/session/models"
)

// Repository owns the sessions subtree of the data directory.
type Repository struct {
	dir      string
	mu       sync.RWMutex
	sessions map[string]*models.Session
	byProj   map[string]map[string]struct{}
	logger   *logger.Logger
}

// New creates a Repository rooted at {dataDir}/sessions.
func New(dataDir string, log *logger.Logger) *Repository {
	return &Repository{
		dir:      filepath.Join(dataDir, "sessions"),
		sessions: make(map[string]*models.Session),
		byProj:   make(map[string]map[string]struct{}),
		logger:   log,
	}
}

// Initialize walks every project subdirectory and loads its session files,
// quarantining any file that fails to parse.
func (r *Repository) Initialize() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read sessions dir: %w", err)
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
			r.logger.Warn("failed to read project session dir", zap.String("dir", projDir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			path := filepath.Join(projDir, f.Name())
			var sess models.Session
			if err := atomicfile.ReadJSON(path, &sess); err != nil {
				r.logger.Warn("quarantining corrupt session file", zap.String("path", path), zap.Error(err))
				if qerr := atomicfile.Quarantine(path); qerr != nil {
					r.logger.Error("failed to quarantine corrupt session file", zap.String("path", path), zap.Error(qerr))
				}
				continue
			}
			r.index(&sess)
		}
	}
	return nil
}

func (r *Repository) index(s *models.Session) {
	r.sessions[s.ID] = s
	if r.byProj[s.ProjectID] == nil {
		r.byProj[s.ProjectID] = make(map[string]struct{})
	}
	r.byProj[s.ProjectID][s.ID] = struct{}{}
}

func (r *Repository) path(s *models.Session) string {
	return filepath.Join(r.dir, s.ProjectID, s.ID+".json")
}

// ManifestPath returns the path a session's manifest file is written to,
// nested under its project directory (sessions/{projectId}/{sessionId}/
// manifest.json) so Initialize's directory walk never mistakes a manifest
// subdirectory for a project directory of session records: Initialize skips
// any directory entry inside a project dir, and a session's own id never
// collides with a sibling session's project-scoped manifest directory.
func (r *Repository) ManifestPath(sessionID string) string {
	r.mu.RLock()
	projectID := ""
	if s, ok := r.sessions[sessionID]; ok {
		projectID = s.ProjectID
	}
	r.mu.RUnlock()
	return filepath.Join(r.dir, projectID, sessionID, "manifest.json")
}

// Put creates or overwrites a session, persisting it before returning.
func (r *Repository) Put(s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := atomicfile.WriteJSON(r.path(s), s); err != nil {
		return fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	r.index(s)
	return nil
}

// Get returns the session with the given id, or (nil, false).
func (r *Repository) Get(id string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ListByProject returns every session belonging to projectID.
func (r *Repository) ListByProject(projectID string) []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byProj[projectID]
	out := make([]*models.Session, 0, len(ids))
	for id := range ids {
		out = append(out, r.sessions[id])
	}
	return out
}

// List returns every session.
func (r *Repository) List() []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Delete removes a session's record and its on-disk file.
func (r *Repository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	delete(r.sessions, id)
	if projIndex := r.byProj[s.ProjectID]; projIndex != nil {
		delete(projIndex, id)
	}
	return atomicfile.Remove(r.path(s))
}

// WriteManifest writes the manifest document to the session's manifest path
// and returns that path.
func (r *Repository) WriteManifest(sessionID string, manifest interface{}) (string, error) {
	path := r.ManifestPath(sessionID)
	if err := atomicfile.WriteJSON(path, manifest); err != nil {
		return "", fmt.Errorf("persist manifest for session %s: %w", sessionID, err)
	}
	return path, nil
}
