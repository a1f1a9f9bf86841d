// Package history persists deployment records so runs can be listed and resumed.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"lakedeploy/internal/common"
	"lakedeploy/internal/observability"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

const filePrefix = "deployment-"

// Manager stores one JSON file per deployment record
type Manager struct {
	dir        string
	mu         sync.RWMutex
	records    map[string]*models.DeploymentRecord
	maxRecords int
}

// DefaultDir returns ~/.lakedeploy/history
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".lakedeploy", "history")
	}
	return filepath.Join(home, ".lakedeploy", "history")
}

// NewManager opens (creating if needed) the history directory and loads existing records.
// maxRecords <= 0 keeps 100 records.
func NewManager(dir string, maxRecords int) (*Manager, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if maxRecords <= 0 {
		maxRecords = 100
	}
	if err := os.MkdirAll(dir, common.DirPermissionSecure); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "failed to create history directory").WithContext("dir", dir)
	}

	m := &Manager{
		dir:        dir,
		records:    make(map[string]*models.DeploymentRecord),
		maxRecords: maxRecords,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewID returns a new deployment ID
func NewID() string {
	return uuid.NewString()
}

// Record stores a new deployment, linking it to the previous deployment of the same workspace
func (m *Manager) Record(rec *models.DeploymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.PreviousID == "" {
		if prev := m.latest(rec.Workspace, rec.ID); prev != nil {
			rec.PreviousID = prev.ID
		}
	}
	if rec.Resources == nil {
		rec.Resources = make(map[string]string)
	}

	if err := m.save(rec); err != nil {
		return err
	}
	m.records[rec.ID] = rec
	m.cleanup()
	return nil
}

// Save persists the current state of a record already known to the manager
func (m *Manager) Save(rec *models.DeploymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.save(rec); err != nil {
		return err
	}
	m.records[rec.ID] = rec
	return nil
}

// Update applies fn to a stored record and persists it
func (m *Manager) Update(id string, fn func(*models.DeploymentRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return notFound(id)
	}
	fn(rec)
	return m.save(rec)
}

// Get returns a record by ID. A unique ID prefix is accepted.
func (m *Manager) Get(id string) (*models.DeploymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.records[id]; ok {
		return rec, nil
	}

	var match *models.DeploymentRecord
	for recID, rec := range m.records {
		if id != "" && strings.HasPrefix(recID, id) {
			if match != nil {
				return nil, errors.Newf(errors.ErrCodeInvalidInput, "deployment ID prefix '%s' is ambiguous", id)
			}
			match = rec
		}
	}
	if match == nil {
		return nil, notFound(id)
	}
	return match, nil
}

// List returns records newest first. An empty workspace lists every workspace.
func (m *Manager) List(workspace string, limit int) []*models.DeploymentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.DeploymentRecord
	for _, rec := range m.records {
		if workspace == "" || rec.Workspace == workspace {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Latest returns the newest record for a workspace, or nil
func (m *Manager) Latest(workspace string) *models.DeploymentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest(workspace, "")
}

// Export writes the records matching filter to path as a JSON array, oldest first
func (m *Manager) Export(path string, filter func(*models.DeploymentRecord) bool) error {
	m.mu.RLock()
	var out []*models.DeploymentRecord
	for _, rec := range m.records {
		if filter == nil || filter(rec) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	target, err := common.CleanPath(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid export path").WithContext("path", path)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode history")
	}
	if err := os.WriteFile(target, data, common.FilePermissionSecure); err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "failed to write history export").WithContext("path", target)
	}
	return nil
}

func (m *Manager) latest(workspace, exclude string) *models.DeploymentRecord {
	var latest *models.DeploymentRecord
	for _, rec := range m.records {
		if rec.Workspace != workspace || rec.ID == exclude {
			continue
		}
		if latest == nil || rec.StartTime.After(latest.StartTime) {
			latest = rec
		}
	}
	return latest
}

func (m *Manager) load() error {
	files, err := filepath.Glob(filepath.Join(m.dir, filePrefix+"*.json"))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "failed to list history")
	}

	for _, file := range files {
		rec, err := m.read(file)
		if err != nil {
			observability.Warnf("Skipping unreadable history file %s: %v", filepath.Base(file), err)
			continue
		}
		m.records[rec.ID] = rec
	}
	return nil
}

func (m *Manager) read(file string) (*models.DeploymentRecord, error) {
	path, err := common.ValidatePath(file, m.dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is validated
	if err != nil {
		return nil, err
	}

	var rec models.DeploymentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("record has no id")
	}
	return &rec, nil
}

func (m *Manager) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid deployment id %q", id)
	}
	return common.ValidatePath(filepath.Join(m.dir, filePrefix+id+".json"), m.dir)
}

func (m *Manager) save(rec *models.DeploymentRecord) error {
	path, err := m.path(rec.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid deployment ID").WithContext("deployment_id", rec.ID)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode deployment record")
	}
	if err := os.WriteFile(path, data, common.FilePermissionSecure); err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "failed to save deployment record").WithContext("path", path)
	}
	return nil
}

// cleanup drops the oldest records beyond maxRecords
func (m *Manager) cleanup() {
	if len(m.records) <= m.maxRecords {
		return
	}

	all := make([]*models.DeploymentRecord, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, rec)
	}
	sortNewestFirst(all)

	for _, rec := range all[m.maxRecords:] {
		delete(m.records, rec.ID)
		if path, err := m.path(rec.ID); err == nil {
			os.Remove(path)
		}
	}
}

func sortNewestFirst(records []*models.DeploymentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].ID > records[j].ID
		}
		return records[i].StartTime.After(records[j].StartTime)
	})
}

func notFound(id string) error {
	return errors.Newf(errors.ErrCodeNotFound, "Deployment '%s' not found", id).
		WithContext("deployment_id", id).
		WithSuggestions("Run 'lakedeploy history' to list recorded deployments")
}

// Finish marks the record finished with state at now
func Finish(rec *models.DeploymentRecord, state models.DeploymentState, now time.Time) {
	rec.State = state
	rec.EndTime = &now
}
