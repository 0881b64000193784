// Package repository persists messages as one JSON file per message under
// {dataDir}/messages/by-receiver/{sessionId}/{msgId}.json, indexed by
// receiver since inbox(sessionId) is the dominant read path.
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/atomicfile"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/message/models"
)

// Repository owns the messages subtree of the data directory.
type Repository struct {
	dir        string
	mu         sync.RWMutex
	messages   map[string]*models.Message
	byReceiver map[string]map[string]struct{}
	logger     *logger.Logger
}

// New creates a Repository rooted at {dataDir}/messages/by-receiver.
func New(dataDir string, log *logger.Logger) *Repository {
	return &Repository{
		dir:        filepath.Join(dataDir, "messages", "by-receiver"),
		messages:   make(map[string]*models.Message),
		byReceiver: make(map[string]map[string]struct{}),
		logger:     log,
	}
}

// Initialize walks every receiver subdirectory and loads its message files,
// quarantining any file that fails to parse.
func (r *Repository) Initialize() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read messages dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, recvEntry := range entries {
		if !recvEntry.IsDir() {
			continue
		}
		recvDir := filepath.Join(r.dir, recvEntry.Name())
		files, err := os.ReadDir(recvDir)
		if err != nil {
			r.logger.Warn("failed to read receiver message dir", zap.String("dir", recvDir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			path := filepath.Join(recvDir, f.Name())
			var msg models.Message
			if err := atomicfile.ReadJSON(path, &msg); err != nil {
				r.logger.Warn("quarantining corrupt message file", zap.String("path", path), zap.Error(err))
				if qerr := atomicfile.Quarantine(path); qerr != nil {
					r.logger.Error("failed to quarantine corrupt message file", zap.String("path", path), zap.Error(qerr))
				}
				continue
			}
			r.index(&msg)
		}
	}
	return nil
}

func (r *Repository) index(m *models.Message) {
	r.messages[m.ID] = m
	if r.byReceiver[m.To] == nil {
		r.byReceiver[m.To] = make(map[string]struct{})
	}
	r.byReceiver[m.To][m.ID] = struct{}{}
}

func (r *Repository) path(m *models.Message) string {
	return filepath.Join(r.dir, m.To, m.ID+".json")
}

// Put creates or overwrites a message, persisting it before returning.
func (r *Repository) Put(m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := atomicfile.WriteJSON(r.path(m), m); err != nil {
		return fmt.Errorf("persist message %s: %w", m.ID, err)
	}
	r.index(m)
	return nil
}

// Get returns the message with the given id, or (nil, false).
func (r *Repository) Get(id string) (*models.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	return m, ok
}

// Inbox returns every message addressed to sessionID.
func (r *Repository) Inbox(sessionID string) []*models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byReceiver[sessionID]
	out := make([]*models.Message, 0, len(ids))
	for id := range ids {
		out = append(out, r.messages[id])
	}
	return out
}

// List returns every message, used by the TTL sweep.
func (r *Repository) List() []*models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Message, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m)
	}
	return out
}

// Delete removes a message's record and its on-disk file.
func (r *Repository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return fmt.Errorf("message not found: %s", id)
	}
	delete(r.messages, id)
	if recvIndex := r.byReceiver[m.To]; recvIndex != nil {
		delete(recvIndex, id)
	}
	return atomicfile.Remove(r.path(m))
}

// DeleteBySession removes every message addressed to sessionID, used when a
// session (and its project) is torn down.
func (r *Repository) DeleteBySession(sessionID string) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byReceiver[sessionID]))
	for id := range r.byReceiver[sessionID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Delete(id); err != nil {
			return err
		}
	}
	return nil
}
