// Package repository persists each session's queue as one JSON file under
// {dataDir}/queue/{sessionId}.json holding its ordered item list.
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/atomicfile"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/queue/models"
)

// Repository owns the queue subtree of the data directory.
type Repository struct {
	dir    string
	mu     sync.RWMutex
	queues map[string][]*models.Item
	logger *logger.Logger
}

// New creates a Repository rooted at {dataDir}/queue.
func New(dataDir string, log *logger.Logger) *Repository {
	return &Repository{
		dir:    filepath.Join(dataDir, "queue"),
		queues: make(map[string][]*models.Item),
		logger: log,
	}
}

// Initialize loads every session's queue file, quarantining any file that
// fails to parse.
func (r *Repository) Initialize() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read queue dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range entries {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		path := filepath.Join(r.dir, f.Name())
		var items []*models.Item
		if err := atomicfile.ReadJSON(path, &items); err != nil {
			r.logger.Warn("quarantining corrupt queue file", zap.String("path", path), zap.Error(err))
			if qerr := atomicfile.Quarantine(path); qerr != nil {
				r.logger.Error("failed to quarantine corrupt queue file", zap.String("path", path), zap.Error(qerr))
			}
			continue
		}
		sessionID := f.Name()[:len(f.Name())-len(".json")]
		r.queues[sessionID] = items
	}
	return nil
}

func (r *Repository) path(sessionID string) string {
	return filepath.Join(r.dir, sessionID+".json")
}

// PutAll overwrites a session's full ordered queue.
func (r *Repository) PutAll(sessionID string, items []*models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := atomicfile.WriteJSON(r.path(sessionID), items); err != nil {
		return fmt.Errorf("persist queue for session %s: %w", sessionID, err)
	}
	r.queues[sessionID] = items
	return nil
}

// List returns a session's ordered queue.
func (r *Repository) List(sessionID string) []*models.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*models.Item(nil), r.queues[sessionID]...)
}

// Delete removes a session's queue file entirely, used during session
// cascade delete.
func (r *Repository) Delete(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, sessionID)
	if err := atomicfile.Remove(r.path(sessionID)); err != nil {
		return fmt.Errorf("delete queue for session %s: %w", sessionID, err)
	}
	return nil
}
